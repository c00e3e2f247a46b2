package chart

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Row 是一条时间序列记录；缺失字段视为 NaN。
type Row struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Get 返回字段值，不存在时为 NaN。
func (r Row) Get(field string) float64 {
	if r.Values == nil {
		return math.NaN()
	}
	v, ok := r.Values[field]
	if !ok {
		return math.NaN()
	}
	return v
}

// ColumnKey 用 (图表, 字段) 标识列，多个图表可以共存于同一个 Frame。
type ColumnKey struct {
	Chart string
	Field string
}

func (k ColumnKey) String() string {
	return k.Chart + ":" + k.Field
}

// Frame 是以升序 UTC 时间戳为索引的列式表。
type Frame struct {
	index []time.Time
	pos   map[int64]int
	cols  map[ColumnKey][]float64
	order []ColumnKey
}

// NewFrame 以给定索引建表；索引会被排序去重。
func NewFrame(index []time.Time) *Frame {
	uniq := make(map[int64]time.Time, len(index))
	for _, ts := range index {
		uniq[ts.UnixNano()] = ts.UTC()
	}
	sorted := make([]time.Time, 0, len(uniq))
	for _, ts := range uniq {
		sorted = append(sorted, ts)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	f := &Frame{
		index: sorted,
		pos:   make(map[int64]int, len(sorted)),
		cols:  make(map[ColumnKey][]float64),
	}
	for i, ts := range sorted {
		f.pos[ts.UnixNano()] = i
	}
	return f
}

// FrameFromRows 把记录规范化为 Frame：UTC、升序、重复时间戳后者覆盖前者。
// 即使 rows 为空，也会声明 fields 中的全部列。
func FrameFromRows(chartKey string, fields []string, rows []Row) *Frame {
	index := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		index = append(index, r.Timestamp)
	}
	f := NewFrame(index)
	for _, field := range fields {
		f.declare(ColumnKey{Chart: chartKey, Field: field})
	}
	for _, r := range rows {
		i := f.pos[r.Timestamp.UnixNano()]
		for _, field := range fields {
			f.cols[ColumnKey{Chart: chartKey, Field: field}][i] = r.Get(field)
		}
	}
	return f
}

func (f *Frame) declare(key ColumnKey) []float64 {
	if col, ok := f.cols[key]; ok {
		return col
	}
	col := make([]float64, len(f.index))
	for i := range col {
		col[i] = math.NaN()
	}
	f.cols[key] = col
	f.order = append(f.order, key)
	return col
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.index)
}

// Index 返回时间索引的副本。
func (f *Frame) Index() []time.Time {
	if f == nil {
		return nil
	}
	return append([]time.Time(nil), f.index...)
}

// At 返回第 i 个时间戳。
func (f *Frame) At(i int) time.Time {
	return f.index[i]
}

// Columns 按声明顺序返回列键。
func (f *Frame) Columns() []ColumnKey {
	if f == nil {
		return nil
	}
	return append([]ColumnKey(nil), f.order...)
}

// Column 返回列数据；调用方不得修改返回的切片。
func (f *Frame) Column(key ColumnKey) ([]float64, bool) {
	if f == nil {
		return nil, false
	}
	col, ok := f.cols[key]
	return col, ok
}

// SetColumn 写入（或覆盖）一列，长度必须与索引一致。
func (f *Frame) SetColumn(key ColumnKey, values []float64) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", key, len(values), len(f.index))
	}
	if _, ok := f.cols[key]; !ok {
		f.order = append(f.order, key)
	}
	f.cols[key] = append([]float64(nil), values...)
	return nil
}

// HasGaps 判断列在首个有效值之后是否存在 NaN；全 NaN 的非空列也视为有缺口。
// 列不存在时返回 true。
func (f *Frame) HasGaps(key ColumnKey) bool {
	col, ok := f.Column(key)
	if !ok {
		return true
	}
	seen := false
	for _, v := range col {
		if math.IsNaN(v) {
			if seen {
				return true
			}
			continue
		}
		seen = true
	}
	return len(col) > 0 && !seen
}

// Lookup 返回时间戳所在行。
func (f *Frame) Lookup(ts time.Time) (int, bool) {
	if f == nil {
		return 0, false
	}
	i, ok := f.pos[ts.UnixNano()]
	return i, ok
}

// AsOf 返回不晚于 ts 的最后一行，不存在时为 -1。
func (f *Frame) AsOf(ts time.Time) int {
	if f == nil {
		return -1
	}
	i := sort.Search(len(f.index), func(i int) bool { return f.index[i].After(ts) })
	return i - 1
}

// Value 返回 (行, 列) 的值，越界或列不存在时为 NaN。
func (f *Frame) Value(key ColumnKey, i int) float64 {
	col, ok := f.Column(key)
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// Last 返回列的最后一个值。
func (f *Frame) Last(key ColumnKey) float64 {
	return f.Value(key, f.Len()-1)
}

// Slice 返回 [from, to] 内的子表（列数据被复制）。
func (f *Frame) Slice(from, to time.Time) *Frame {
	lo := sort.Search(len(f.index), func(i int) bool { return !f.index[i].Before(from) })
	hi := sort.Search(len(f.index), func(i int) bool { return f.index[i].After(to) })
	if hi < lo {
		hi = lo
	}
	out := NewFrame(f.index[lo:hi])
	for _, key := range f.order {
		col := f.cols[key]
		_ = out.SetColumn(key, col[lo:hi])
	}
	return out
}

// Rows 把指定图表的列还原成记录。外连接补出的整行 NaN 会被跳过。
func (f *Frame) Rows(chartKey string, fields []string) []Row {
	if f == nil {
		return nil
	}
	out := make([]Row, 0, len(f.index))
	for i, ts := range f.index {
		values := make(map[string]float64, len(fields))
		present := false
		for _, field := range fields {
			col, ok := f.cols[ColumnKey{Chart: chartKey, Field: field}]
			if !ok {
				continue
			}
			values[field] = col[i]
			if !math.IsNaN(col[i]) {
				present = true
			}
		}
		if !present {
			continue
		}
		out = append(out, Row{Timestamp: ts, Values: values})
	}
	return out
}

// OuterJoin 在时间轴上外连接多个 Frame；某表缺失的行以 NaN 填充。
// 同名列以靠后的 Frame 为准。
func OuterJoin(frames ...*Frame) *Frame {
	var index []time.Time
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		index = append(index, fr.index...)
	}
	out := NewFrame(index)
	for _, fr := range frames {
		if fr == nil {
			continue
		}
		for _, key := range fr.order {
			dst := out.declare(key)
			src := fr.cols[key]
			for i, ts := range fr.index {
				dst[out.pos[ts.UnixNano()]] = src[i]
			}
		}
	}
	return out
}
