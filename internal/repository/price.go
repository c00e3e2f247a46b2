package repository

import (
	"math"
	"strings"

	"tickforge/internal/chart"
)

// ResolvePriceChart 在已有集合中为品种挑选取价图表：
// 优先最细周期的 K 线，其次逐笔报价。
func ResolvePriceChart(keys []string, symbol string) (*chart.Chart, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var best, tick *chart.Chart
	for _, key := range keys {
		c, err := chart.Parse(key)
		if err != nil || c.Symbol() != symbol {
			continue
		}
		switch c.Type().Name {
		case chart.CandlestickType:
			if best == nil || c.Interval().Delta() < best.Interval().Delta() {
				best = c
			}
		case chart.TickType:
			tick = c
		}
	}
	if best != nil {
		return best, true
	}
	return tick, tick != nil
}

// PriceFromRow 从一条记录中按意图取价。
// K 线以 close 为基准叠加点差；逐笔报价直接取 ask/bid，无意图时取中间价。
func PriceFromRow(c *chart.Chart, row chart.Row, spread float64, intent Intent) (float64, bool) {
	var price float64
	switch c.Type().Name {
	case chart.TickType:
		bid, ask := row.Get("bid"), row.Get("ask")
		switch intent {
		case IntentBuy:
			price = ask
		case IntentSell:
			price = bid
		default:
			price = (bid + ask) / 2
		}
	default:
		price = ApplyIntent(row.Get("close"), spread, intent)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}
