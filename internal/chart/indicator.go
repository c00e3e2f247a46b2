package chart

import (
	"fmt"
	"strings"
)

// Indicator 是附着在图表上的派生序列。
// Name 需要包含参数（如 "sma(20)"），同一图表内唯一。
type Indicator interface {
	Name() string
	QueryFields() []string
	ValueFields() []string
	Run(v View) (map[string][]float64, error)
}

// Binder 由需要回指图表的指标实现；回指只用于查找，不拥有图表。
type Binder interface {
	Bind(c *Chart)
}

// IndicatorBase 可嵌入具体指标，提供回指实现。
type IndicatorBase struct {
	chart *Chart
}

func (b *IndicatorBase) Bind(c *Chart) { b.chart = c }

// Chart 返回所附着的图表，未附着时为 nil。
func (b *IndicatorBase) Chart() *Chart { return b.chart }

// ColumnField 返回指标输出在 Frame 中的字段名，如 "macd(12,26,9).signal"。
func ColumnField(ind Indicator, valueField string) string {
	return ind.Name() + "." + valueField
}

// Attach 注册指标；同名指标已存在时报错。
func (c *Chart) Attach(ind Indicator) error {
	name := strings.TrimSpace(ind.Name())
	if name == "" {
		return fmt.Errorf("indicator name cannot be empty")
	}
	if c.Indicator(name) != nil {
		return fmt.Errorf("indicator %s already attached to %s", name, c.Key())
	}
	if b, ok := ind.(Binder); ok {
		b.Bind(c)
	}
	c.indicators = append(c.indicators, ind)
	return nil
}

// Detach 注销指标，已缓存的列保留在 Frame 中直到下一次读取。
func (c *Chart) Detach(name string) bool {
	for i, ind := range c.indicators {
		if ind.Name() == name {
			c.indicators = append(c.indicators[:i], c.indicators[i+1:]...)
			if b, ok := ind.(Binder); ok {
				b.Bind(nil)
			}
			return true
		}
	}
	return false
}

// Indicator 按名称查找已注册指标。
func (c *Chart) Indicator(name string) Indicator {
	for _, ind := range c.indicators {
		if ind.Name() == name {
			return ind
		}
	}
	return nil
}

// Indicators 按注册顺序返回指标。
func (c *Chart) Indicators() []Indicator {
	return append([]Indicator(nil), c.indicators...)
}

// Apply 计算指标并把输出列缓存在图表数据中。
// 仅当输出列缺失、存在缺口或 force 时才重算。
func (c *Chart) Apply(name string, force bool) error {
	ind := c.Indicator(name)
	if ind == nil {
		return fmt.Errorf("indicator %s not attached to %s", name, c.Key())
	}
	frame := c.table()
	if !force && c.cached(frame, ind) {
		return nil
	}
	out, err := ind.Run(c.View())
	if err != nil {
		return fmt.Errorf("indicator %s on %s: %w", name, c.Key(), err)
	}
	for _, vf := range ind.ValueFields() {
		series, ok := out[vf]
		if !ok {
			return fmt.Errorf("indicator %s did not produce %s", name, vf)
		}
		key := ColumnKey{Chart: c.Key(), Field: ColumnField(ind, vf)}
		if err := frame.SetColumn(key, series); err != nil {
			return fmt.Errorf("indicator %s: %w", name, err)
		}
	}
	return nil
}

// Refresh 按注册顺序应用全部指标。
func (c *Chart) Refresh(force bool) error {
	for _, ind := range c.indicators {
		if err := c.Apply(ind.Name(), force); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chart) cached(frame *Frame, ind Indicator) bool {
	if frame.Len() == 0 {
		return false
	}
	for _, vf := range ind.ValueFields() {
		if frame.HasGaps(ColumnKey{Chart: c.Key(), Field: ColumnField(ind, vf)}) {
			return false
		}
	}
	return true
}
