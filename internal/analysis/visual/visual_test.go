package visual

import (
	"bytes"
	"testing"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

func sampleReport() *report.BacktestReport {
	var curve []report.EquityPoint
	var steps []time.Time
	for i, v := range []float64{1000, 1010, 990, 1020} {
		ts := t0.Add(time.Duration(i) * time.Minute)
		steps = append(steps, ts)
		curve = append(curve, report.EquityPoint{Time: ts, Equity: v})
	}
	return report.Build(report.Input{RunID: "run-7", InitialCash: 1000, Timesteps: steps, Equity: curve, Now: steps[3]})
}

func TestWriteHTMLEquityOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, ReportInput{Report: sampleReport()}))
	html := buf.String()
	assert.Contains(t, html, "Equity run-7")
	assert.Contains(t, html, "Drawdown")
	assert.NotContains(t, html, "Volume")
}

func TestWriteHTMLWithCandles(t *testing.T) {
	c, err := chart.Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	c.SetRows([]chart.Row{
		{Timestamp: t0, Values: map[string]float64{"open": 1.2, "high": 1.21, "low": 1.19, "close": 1.205, "volume": 3}},
		{Timestamp: t0.Add(time.Minute), Values: map[string]float64{"open": 1.205, "high": 1.22, "low": 1.2, "close": 1.2, "volume": 5}},
	})
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, ReportInput{Report: sampleReport(), Price: c}))
	assert.Contains(t, buf.String(), "Volume")

	lo, hi := priceBounds(c.View())
	assert.Equal(t, 1.19, lo)
	assert.Equal(t, 1.22, hi)
}

func TestWriteHTMLRejectsEmptyReports(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteHTML(&buf, ReportInput{}))
	assert.Error(t, WriteHTML(&buf, ReportInput{Report: &report.BacktestReport{RunID: "x"}}))
}

func TestDataURI(t *testing.T) {
	img := &ImageResult{Bytes: []byte{1, 2, 3}}
	assert.Equal(t, "data:image/png;base64,AQID", img.DataURI())
	var empty *ImageResult
	assert.Empty(t, empty.DataURI())
}
