package config

import (
	"fmt"
	"strings"

	"tickforge/internal/chart"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Backfill.validate(c.Sources); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Sources.validate(); err != nil {
		return err
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	for sym, info := range c.Instruments {
		if info.PipSize <= 0 {
			return fmt.Errorf("instruments.%s.pip_size must be > 0", sym)
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level unsupported: %s", a.LogLevel)
	}
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %s", a.LogFormat)
	}
	return nil
}

func (b *BackfillConfig) validate(sources SourcesConfig) error {
	if b.MaxRetries < 0 {
		return fmt.Errorf("backfill.max_retries must be >= 0")
	}
	if b.Increment.IsZero() {
		return fmt.Errorf("backfill.increment is required")
	}
	if b.DefaultSource == "" {
		return nil
	}
	for _, name := range sources.EnabledSources() {
		if name == b.DefaultSource {
			return nil
		}
	}
	return fmt.Errorf("backfill.default_source %s is not an enabled source", b.DefaultSource)
}

func (b *BacktestConfig) validate() error {
	if b.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash must be > 0")
	}
	if b.Latency < 0 {
		return fmt.Errorf("backtest.latency must be >= 0")
	}
	return nil
}

func (s *SourcesConfig) validate() error {
	if s.Binance.Enabled && strings.TrimSpace(s.Binance.RESTBaseURL) == "" {
		return fmt.Errorf("sources.binance.rest_base_url is required")
	}
	if s.Binance.PageLimit > 1500 {
		return fmt.Errorf("sources.binance.page_limit must be <= 1500")
	}
	if s.CSV.Enabled && strings.TrimSpace(s.CSV.Dir) == "" {
		return fmt.Errorf("sources.csv.dir is required when csv is enabled")
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if len(s.Charts) == 0 {
		return fmt.Errorf("sync.charts requires at least one chart when sync is enabled")
	}
	for i, key := range s.Charts {
		c, err := chart.Parse(key)
		if err != nil {
			return fmt.Errorf("sync.charts[%d]: %w", i, err)
		}
		s.Charts[i] = c.Key()
	}
	if s.Offset < 0 || s.Lookback < 0 {
		return fmt.Errorf("sync.offset and sync.lookback must be >= 0")
	}
	return nil
}
