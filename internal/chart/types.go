package chart

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tickforge/internal/interval"
)

var (
	ErrUnknownChartType = errors.New("unknown chart type")
	ErrInvalidKey       = errors.New("invalid chart key")
	ErrGrouped          = errors.New("chart is owned by a group")
)

// QueryField 描述图表的一个查询参数；Normalize 负责校验并给出规范化表示。
type QueryField struct {
	Name      string
	Normalize func(string) (string, error)
}

// Type 是编译期声明的图表类型：查询参数（有序）+ 值字段 schema。
type Type struct {
	Name        string
	QueryFields []QueryField
	ValueFields []string
}

// HasField 判断 schema 是否声明了该值字段。
func (t *Type) HasField(name string) bool {
	for _, f := range t.ValueFields {
		if f == name {
			return true
		}
	}
	return false
}

func (t *Type) queryIndex(name string) int {
	for i, q := range t.QueryFields {
		if q.Name == name {
			return i
		}
	}
	return -1
}

const (
	CandlestickType = "CandlestickChart"
	TickType        = "TickChart"
)

var registry = map[string]*Type{
	CandlestickType: {
		Name: CandlestickType,
		QueryFields: []QueryField{
			{Name: "symbol", Normalize: normalizeSymbol},
			{Name: "interval", Normalize: normalizeInterval},
		},
		ValueFields: []string{"open", "high", "low", "close", "volume"},
	},
	TickType: {
		Name: TickType,
		QueryFields: []QueryField{
			{Name: "symbol", Normalize: normalizeSymbol},
		},
		ValueFields: []string{"bid", "ask", "volume"},
	},
}

// LookupType 按名称查找已注册的图表类型。
func LookupType(name string) (*Type, error) {
	t, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChartType, name)
	}
	return t, nil
}

// Types 返回全部类型名（排序后）。
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeSymbol(v string) (string, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return "", fmt.Errorf("symbol cannot be empty")
	}
	if strings.ContainsAny(v, ". \t\n\"") {
		return "", fmt.Errorf("symbol %q contains reserved characters", v)
	}
	return v, nil
}

func normalizeInterval(v string) (string, error) {
	iv, err := interval.Parse(v)
	if err != nil {
		return "", err
	}
	return iv.String(), nil
}
