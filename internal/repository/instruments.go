package repository

import (
	"strings"
	"sync"
)

// InstrumentInfo 描述单个品种的报价精度。
type InstrumentInfo struct {
	PipSize   float64 `json:"pip_size"`
	PointSize float64 `json:"point_size"`
	Digits    int     `json:"digits"`
}

// InstrumentTable 是可覆盖的品种元数据表，未登记的品种按外汇默认值推断：
// JPY 报价的货币对 pip=0.01，其余 pip=0.0001，point=pip/10。
// 点差固定近似为 2 个 pip。
type InstrumentTable struct {
	mu      sync.RWMutex
	entries map[string]InstrumentInfo
}

func NewInstrumentTable(overrides map[string]InstrumentInfo) *InstrumentTable {
	t := &InstrumentTable{entries: make(map[string]InstrumentInfo, len(overrides))}
	for sym, info := range overrides {
		t.Set(sym, info)
	}
	return t
}

// Set 覆盖品种元数据；PointSize 为 0 时取 PipSize/10。
func (t *InstrumentTable) Set(symbol string, info InstrumentInfo) {
	if info.PointSize == 0 {
		info.PointSize = info.PipSize / 10
	}
	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]InstrumentInfo)
	}
	t.entries[strings.ToUpper(strings.TrimSpace(symbol))] = info
	t.mu.Unlock()
}

// Lookup 返回品种元数据（登记值或推断值）。
func (t *InstrumentTable) Lookup(symbol string) InstrumentInfo {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if t != nil {
		t.mu.RLock()
		info, ok := t.entries[symbol]
		t.mu.RUnlock()
		if ok {
			return info
		}
	}
	if strings.HasSuffix(symbol, "JPY") {
		return InstrumentInfo{PipSize: 0.01, PointSize: 0.001, Digits: 3}
	}
	return InstrumentInfo{PipSize: 0.0001, PointSize: 0.00001, Digits: 5}
}

func (t *InstrumentTable) GetPipSize(symbol string) float64 {
	return t.Lookup(symbol).PipSize
}

func (t *InstrumentTable) GetPointSize(symbol string) float64 {
	return t.Lookup(symbol).PointSize
}

func (t *InstrumentTable) GetSpread(symbol string) float64 {
	return 2 * t.GetPipSize(symbol)
}
