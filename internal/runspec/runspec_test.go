package runspec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickforge/internal/interval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
name: eurusd-demo
charts:
  - Candlestick.eurusd.1m
from: 2021-05-13T12:00:00Z
to: 2021-05-13T14:10:00Z
interval: 1m
initial_cash: 10000
latency: 90s
strategy:
  name: script
  params:
    steps:
      - {at: 0, action: place, symbol: EURUSD, side: long, units: 20}
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "eurusd-demo", spec.Name)
	assert.Equal(t, []string{"Candlestick.EURUSD.1m"}, spec.Charts)
	assert.Equal(t, interval.Minutes(1), spec.Interval)
	assert.Equal(t, 90*time.Second, spec.Latency)
	assert.Equal(t, 10000.0, spec.InitialCash)
	assert.Equal(t, "script", spec.Strategy.Name)
	require.Contains(t, spec.Strategy.Params, "steps")

	w, ok := spec.Window()
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, 130*time.Minute, w.Span())
}

func TestParseWithoutWindow(t *testing.T) {
	spec, err := Parse([]byte(`
charts: [Candlestick.EURUSD.1h, Candlestick.GBPUSD.1h]
interval: 1h
initial_cash: 500
strategy: {name: smacross, params: {symbol: EURUSD}}
`))
	require.NoError(t, err)
	_, ok := spec.Window()
	assert.False(t, ok)
	assert.Equal(t, "smacross", spec.Name, "name defaults to the strategy name")
}

func TestSchemaRejections(t *testing.T) {
	cases := map[string]string{
		"missing strategy": `
charts: [Candlestick.EURUSD.1m]
interval: 1m
initial_cash: 1
`,
		"negative cash": `
charts: [Candlestick.EURUSD.1m]
interval: 1m
initial_cash: -5
strategy: {name: script}
`,
		"unknown field": `
charts: [Candlestick.EURUSD.1m]
interval: 1m
initial_cash: 1
strategy: {name: script}
leverage: 100
`,
		"bad latency": `
charts: [Candlestick.EURUSD.1m]
interval: 1m
initial_cash: 1
latency: soon
strategy: {name: script}
`,
		"bad from": `
charts: [Candlestick.EURUSD.1m]
from: yesterday
to: 2021-05-13T14:10:00Z
interval: 1m
initial_cash: 1
strategy: {name: script}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorContains(t, err, "invalid run spec")
		})
	}
}

func TestSemanticRejections(t *testing.T) {
	_, err := Parse([]byte(`
charts: [Candlestick.EURUSD.1m]
from: 2021-05-13T14:10:00Z
to: 2021-05-13T12:00:00Z
interval: 1m
initial_cash: 1
strategy: {name: script}
`))
	assert.ErrorContains(t, err, "is after")

	_, err = Parse([]byte(`
charts: [Candlestick.EURUSD.1m]
from: 2021-05-13T12:00:00Z
interval: 1m
initial_cash: 1
strategy: {name: script}
`))
	assert.ErrorContains(t, err, "set together")

	_, err = Parse([]byte(`
charts: [Nope.EURUSD.1m]
interval: 1m
initial_cash: 1
strategy: {name: script}
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
charts: [Candlestick.EURUSD.1m]
interval: 7x
initial_cash: 1
strategy: {name: script}
`))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	spec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eurusd-demo", spec.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
