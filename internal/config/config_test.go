package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickforge/internal/interval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, defaultBackfillWorkers, cfg.Backfill.Workers)
	assert.Equal(t, interval.Months(1), cfg.Backfill.Increment)
	assert.Equal(t, 30*time.Second, cfg.Backfill.RetryBackoff)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialCash)
	assert.Equal(t, defaultBinanceREST, cfg.Sources.Binance.RESTBaseURL)
	assert.Empty(t, cfg.Sources.EnabledSources())
}

func TestLoadDecodesDurationsAndIntervals(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
backfill:
  increment: 1w
  retry_backoff: 5s
  max_retries: 0
  default_source: CSV
backtest:
  latency: 250ms
  initial_cash: "2500"
sources:
  csv:
    enabled: true
    dir: ./history
instruments:
  usdjpy:
    pip_size: 0.01
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, interval.Weeks(1), cfg.Backfill.Increment)
	assert.Equal(t, 5*time.Second, cfg.Backfill.RetryBackoff)
	assert.Equal(t, 0, cfg.Backfill.MaxRetries, "explicit zero is kept")
	assert.Equal(t, "csv", cfg.Backfill.DefaultSource)
	assert.Equal(t, 250*time.Millisecond, cfg.Backtest.Latency)
	assert.Equal(t, 2500.0, cfg.Backtest.InitialCash)
	assert.Equal(t, []string{"csv"}, cfg.Sources.EnabledSources())
	infos := cfg.InstrumentInfos()
	require.Contains(t, infos, "USDJPY")
	assert.Equal(t, 0.01, infos["USDJPY"].PipSize)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  http_addr: \":8000\"\n  log_level: warn\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  log_level: error\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.App.HTTPAddr)
	assert.Equal(t, "error", cfg.App.LogLevel, "the including file wins")
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"log level":      "app:\n  log_level: loud\n",
		"cash":           "backtest:\n  initial_cash: -1\n",
		"latency":        "backtest:\n  latency: -1s\n",
		"default source": "backfill:\n  default_source: binance\n",
		"pip size":       "instruments:\n  eurusd:\n    pip_size: 0\n",
		"page limit":     "sources:\n  binance:\n    page_limit: 5000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.env", "TICKFORGE_TEST_AV_KEY=from-dotenv\n")
	path := writeFile(t, dir, "config.yaml", `
app:
  env_file: secrets.env
sources:
  alphavantage:
    enabled: true
    api_key_env: TICKFORGE_TEST_AV_KEY
`)
	t.Cleanup(func() { os.Unsetenv("TICKFORGE_TEST_AV_KEY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Sources.AlphaVantage.ResolveAPIKey())

	cfg.Sources.AlphaVantage.APIKey = "inline"
	assert.Equal(t, "inline", cfg.Sources.AlphaVantage.ResolveAPIKey())
}

func TestLoadMissingExplicitEnvFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env_file: nope.env\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadSyncSection(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
sync:
  enabled: true
  charts: ["CandlestickChart.ethusdt.1h"]
  interval: 1h
  offset: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, interval.Hours(1), cfg.Sync.Interval)
	assert.Equal(t, 30*time.Second, cfg.Sync.Offset)
	assert.Equal(t, defaultSyncLookback, cfg.Sync.Lookback)
	assert.Equal(t, []string{"CandlestickChart.ETHUSDT.1h"}, cfg.Sync.Charts)

	bad := writeFile(t, t.TempDir(), "config.yaml", "sync:\n  enabled: true\n")
	_, err = Load(bad)
	assert.Error(t, err)
}
