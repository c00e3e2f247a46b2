package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

func minutes(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func curve(values ...float64) []EquityPoint {
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Time: t0.Add(time.Duration(i) * time.Minute), Equity: v}
	}
	return out
}

func TestBuildWindowSample(t *testing.T) {
	steps := minutes(12)
	r := Build(Input{Timesteps: steps, Now: steps[11]})
	assert.Equal(t, t0, r.Window.From)
	assert.Equal(t, steps[11], r.Window.To)
	assert.Equal(t, 12, r.Window.Steps)
	assert.Equal(t, steps[:5], r.Window.Head)
	assert.Equal(t, steps[7:], r.Window.Tail)

	short := Build(Input{Timesteps: minutes(3)})
	assert.Len(t, short.Window.Head, 3)
	assert.Len(t, short.Window.Tail, 3)
}

func TestEquitySummaryAndDrawdown(t *testing.T) {
	r := Build(Input{Equity: curve(100, 120, 90, 110, 60, 130)})
	assert.Equal(t, EquitySummary{Open: 100, High: 130, Low: 60, Close: 130, MaxDrawdown: 0.5}, r.Equity)

	dd := Drawdown(curve(100, 120, 90))
	require.Len(t, dd, 3)
	assert.Equal(t, 0.0, dd[0])
	assert.Equal(t, 0.0, dd[1])
	assert.InDelta(t, 0.25, dd[2], 1e-12)
}

func TestOrderAndPositionStats(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	r := Build(Input{
		Now: now,
		Orders: []OrderRecord{
			{ID: 1, Status: "filled", PlacedAt: t0, ClosedAt: t0.Add(time.Minute)},
			{ID: 2, Status: "cancelled", PlacedAt: t0, ClosedAt: t0.Add(3 * time.Minute)},
			{ID: 3, Status: "open", PlacedAt: t0.Add(8 * time.Minute)},
		},
		Positions: []PositionRecord{
			{ID: 1, Status: "closed", OpenedAt: t0, ClosedAt: t0.Add(4 * time.Minute), Profit: 10},
			{ID: 2, Status: "closed", OpenedAt: t0, ClosedAt: t0.Add(2 * time.Minute), Profit: -4},
			{ID: 3, Status: "open", OpenedAt: t0.Add(4 * time.Minute), Profit: 100},
		},
	})
	assert.Equal(t, 3, r.Orders)
	assert.Equal(t, 1, r.FilledOrders)
	assert.Equal(t, 1, r.CancelledOrders)
	assert.Equal(t, 1, r.OpenOrders)
	assert.Equal(t, Stats{Count: 3, Min: 60, Max: 180, Avg: 120}, r.OrderDuration)

	assert.Equal(t, 2, r.ClosedPositions)
	assert.Equal(t, Stats{Count: 3, Min: 120, Max: 360, Avg: 240}, r.PositionDuration)
	assert.Equal(t, -4.0, r.PositionProfit.Min)
	assert.Equal(t, 100.0, r.PositionProfit.Max)
	assert.Equal(t, 0.5, r.WinRate, "win rate only counts closed positions")
}

func TestEmptyReport(t *testing.T) {
	r := Build(Input{})
	assert.Zero(t, r.WinRate)
	assert.Zero(t, r.OrderDuration.Count)
	assert.Equal(t, EquitySummary{}, r.Equity)

	var buf bytes.Buffer
	Render(&buf, r)
	assert.Contains(t, buf.String(), "Win rate")
}

func TestRender(t *testing.T) {
	r := Build(Input{RunID: "run-1", Strategy: "smacross", InitialCash: 1000, Timesteps: minutes(6), Equity: curve(1000, 1010)})
	var buf bytes.Buffer
	Render(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1000.00 / 1010.00 / 1000.00 / 1010.00")
	assert.Contains(t, out, "6 steps")
}
