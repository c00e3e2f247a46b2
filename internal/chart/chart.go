package chart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickforge/internal/interval"
)

// Reader 读取图表在给定窗口内的记录。
type Reader interface {
	ReadChart(ctx context.Context, c *Chart, ov Overrides) ([]Row, error)
}

// Writer 把图表当前数据写入存储（upsert）。
type Writer interface {
	WriteChart(ctx context.Context, c *Chart, ov Overrides) error
}

// Overrides 是叠加在图表窗口参数上的一次性覆盖，不会修改图表本身。
type Overrides struct {
	From  *time.Time
	To    *time.Time
	Count *int
}

// Between 覆盖时间窗口。
func Between(from, to time.Time) Overrides {
	return Overrides{From: &from, To: &to}
}

// Last 取截至 to 的最后 n 条记录。
func Last(n int, to time.Time) Overrides {
	return Overrides{To: &to, Count: &n}
}

// Query 是合并覆盖后的有效查询窗口；零值字段表示不限制。
type Query struct {
	From  time.Time
	To    time.Time
	Count int
}

// Contains 判断时间戳是否落在窗口内（闭区间）。
func (q Query) Contains(ts time.Time) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

// Chart 是由 (类型, 查询参数) 唯一标识的时间序列。
type Chart struct {
	typ    *Type
	values []string

	From  time.Time
	To    time.Time
	Count int

	indicators []Indicator
	frame      *Frame
	group      *Group
}

// New 按类型名和查询参数（顺序与类型声明一致，symbol 在前）构造图表。
func New(typeName string, values ...string) (*Chart, error) {
	t, err := LookupType(typeName)
	if err != nil {
		return nil, err
	}
	if len(values) != len(t.QueryFields) {
		return nil, fmt.Errorf("%s expects %d query values, got %d", t.Name, len(t.QueryFields), len(values))
	}
	norm := make([]string, len(values))
	for i, q := range t.QueryFields {
		v, err := q.Normalize(values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, q.Name, err)
		}
		norm[i] = v
	}
	c := &Chart{typ: t, values: norm}
	c.frame = FrameFromRows(c.Key(), t.ValueFields, nil)
	return c, nil
}

// Candlestick 构造 K 线图表。
func Candlestick(symbol string, iv interval.Interval) (*Chart, error) {
	return New(CandlestickType, symbol, iv.String())
}

// Tick 构造逐笔报价图表。
func Tick(symbol string) (*Chart, error) {
	return New(TickType, symbol)
}

// Parse 由键还原出等价图表：Parse(c.Key()).Key() == c.Key()。
func Parse(key string) (*Chart, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	c, err := New(parts[0], parts[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	return c, nil
}

func (c *Chart) Type() *Type {
	return c.typ
}

// Key 返回 "类型名.参数1.参数2"。
func (c *Chart) Key() string {
	return c.typ.Name + "." + strings.Join(c.values, ".")
}

func (c *Chart) String() string {
	return c.Key()
}

// QueryValue 返回查询参数的规范化表示。
func (c *Chart) QueryValue(name string) string {
	i := c.typ.queryIndex(name)
	if i < 0 {
		return ""
	}
	return c.values[i]
}

func (c *Chart) Symbol() string {
	return c.QueryValue("symbol")
}

// Interval 返回 K 线周期；非 K 线图表返回零值。
func (c *Chart) Interval() interval.Interval {
	raw := c.QueryValue("interval")
	if raw == "" {
		return interval.Interval{}
	}
	iv, err := interval.Parse(raw)
	if err != nil {
		return interval.Interval{}
	}
	return iv
}

// Query 合并覆盖参数，得到有效窗口。
func (c *Chart) Query(ov Overrides) Query {
	q := Query{From: c.From, To: c.To, Count: c.Count}
	if ov.From != nil {
		q.From = ov.From.UTC()
	}
	if ov.To != nil {
		q.To = ov.To.UTC()
	}
	if ov.Count != nil {
		q.Count = *ov.Count
	}
	return q
}

// Clone 复制查询参数与窗口，不复制数据和指标。
func (c *Chart) Clone() *Chart {
	out := &Chart{
		typ:    c.typ,
		values: append([]string(nil), c.values...),
		From:   c.From,
		To:     c.To,
		Count:  c.Count,
	}
	out.frame = FrameFromRows(out.Key(), c.typ.ValueFields, nil)
	return out
}

// Read 从仓库读取数据到私有 Frame，随后刷新全部指标。
func (c *Chart) Read(ctx context.Context, repo Reader, ov Overrides) error {
	if c.group != nil {
		return fmt.Errorf("%w: read %s through its group", ErrGrouped, c.Key())
	}
	rows, err := repo.ReadChart(ctx, c, ov)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.Key(), err)
	}
	c.SetRows(rows)
	return c.Refresh(false)
}

// Write 把当前数据写入仓库。
func (c *Chart) Write(ctx context.Context, repo Writer, ov Overrides) error {
	if err := repo.WriteChart(ctx, c, ov); err != nil {
		return fmt.Errorf("write %s: %w", c.Key(), err)
	}
	return nil
}

// SetRows 用给定记录替换私有 Frame，schema 之外的字段被丢弃。
func (c *Chart) SetRows(rows []Row) {
	c.frame = FrameFromRows(c.Key(), c.typ.ValueFields, rows)
}

// Rows 把值字段还原成记录（不含指标列），用于持久化。
func (c *Chart) Rows() []Row {
	return c.table().Rows(c.Key(), c.typ.ValueFields)
}

// View 返回图表各列的只读视图，无论数据由自身还是分组持有。
func (c *Chart) View() View {
	return View{frame: c.table(), chart: c.Key()}
}

// Len 返回当前行数。
func (c *Chart) Len() int {
	return c.table().Len()
}

// Grouped 表示图表当前由分组持有数据。
func (c *Chart) Grouped() bool {
	return c.group != nil
}

func (c *Chart) table() *Frame {
	if c.group != nil {
		return c.group.frame
	}
	return c.frame
}
