package binance

import (
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
)

const defaultKlineGrace = 10 * time.Second

// dropUnclosed 丢弃仍在进行中的最后一根 K 线（Binance 会返回当前未收盘的那根）。
func dropUnclosed(rows []chart.Row, iv interval.Interval, now time.Time, grace time.Duration) []chart.Row {
	if len(rows) == 0 || iv.IsZero() {
		return rows
	}
	if grace < 0 {
		grace = 0
	}
	last := rows[len(rows)-1]
	closeAt := iv.Add(last.Timestamp, 1)
	if now.Before(closeAt.Add(grace)) {
		return rows[:len(rows)-1]
	}
	return rows
}
