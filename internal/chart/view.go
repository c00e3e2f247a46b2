package chart

import (
	"math"
	"time"
)

// View 是某个图表在 Frame 中各列的只读视图。
// 图表归属分组后只持有 View，底层 Frame 由分组独占。
type View struct {
	frame *Frame
	chart string
}

func (v View) Len() int {
	return v.frame.Len()
}

func (v View) Index() []time.Time {
	return v.frame.Index()
}

// At 返回第 i 行的时间戳。
func (v View) At(i int) time.Time {
	return v.frame.At(i)
}

// Column 返回字段列的副本。
func (v View) Column(field string) ([]float64, bool) {
	col, ok := v.frame.Column(ColumnKey{Chart: v.chart, Field: field})
	if !ok {
		return nil, false
	}
	return append([]float64(nil), col...), true
}

func (v View) Value(field string, i int) float64 {
	if v.frame == nil {
		return math.NaN()
	}
	return v.frame.Value(ColumnKey{Chart: v.chart, Field: field}, i)
}

func (v View) Last(field string) float64 {
	return v.Value(field, v.Len()-1)
}

// AsOf 返回不晚于 ts 的最后一行。
func (v View) AsOf(ts time.Time) int {
	return v.frame.AsOf(ts)
}

// Fields 返回属于该图表的全部字段（含指标输出列）。
func (v View) Fields() []string {
	var out []string
	for _, key := range v.frame.Columns() {
		if key.Chart == v.chart {
			out = append(out, key.Field)
		}
	}
	return out
}
