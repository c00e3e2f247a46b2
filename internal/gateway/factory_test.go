package gateway

import (
	"path/filepath"
	"testing"

	"tickforge/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourcesFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sources.Binance.Enabled = true
	cfg.Sources.Gate.Enabled = true
	cfg.Sources.CSV.Enabled = true
	cfg.Sources.CSV.Dir = t.TempDir()

	sources, err := NewSourcesFromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
	assert.Contains(t, sources, "binance")
	assert.Contains(t, sources, "gate")
	assert.Contains(t, sources, "csv")
}

func TestNewSourcesFromConfigPropagatesInitFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sources.CSV.Enabled = true
	cfg.Sources.CSV.Dir = filepath.Join(t.TempDir(), "missing")
	_, err := NewSourcesFromConfig(cfg)
	assert.ErrorContains(t, err, "init csv source")

	cfg = &config.Config{}
	cfg.Sources.AlphaVantage.Enabled = true
	_, err = NewSourcesFromConfig(cfg)
	assert.ErrorContains(t, err, "alphavantage")

	_, err = NewSourcesFromConfig(nil)
	assert.Error(t, err)
}
