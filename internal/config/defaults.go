package config

import (
	"strings"
	"time"

	"tickforge/internal/interval"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogFormat       = "text"
	defaultAppHTTPAddr        = ":9991"
	defaultStoreDataRoot      = "data/charts"
	defaultStoreReportsDB     = "data/reports.db"
	defaultBackfillWorkers    = 4
	defaultBackfillRetries    = 3
	defaultBackfillBackoff    = 30 * time.Second
	defaultBacktestCash       = 10000
	defaultBacktestReportDir  = "data/reports"
	defaultBinanceREST        = "https://fapi.binance.com"
	defaultBinanceRPM         = 1200
	defaultBinancePageLimit   = 1500
	defaultGateREST           = "https://api.gateio.ws/api/v4"
	defaultGateSettle         = "usdt"
	defaultGateRPM            = 300
	defaultAlphaVantageURL    = "https://www.alphavantage.co/query"
	defaultAlphaVantageKeyEnv = "ALPHAVANTAGE_API_KEY"
	defaultAlphaVantageRPM    = 5
	defaultSourceTimeout      = 15 * time.Second
	defaultCSVDir             = "data/csv"
	defaultSyncOffset         = 10 * time.Second
	defaultSyncLookback       = 30 * 24 * time.Hour
)

var (
	defaultBackfillIncrement = interval.Months(1)
	defaultSyncInterval      = interval.Hours(1)
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Backfill.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Sources.applyDefaults(keys)
	c.Sync.applyDefaults(keys)
}

func (s *SyncConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sync.interval",
			need:  func() bool { return s.Interval.IsZero() },
			apply: func() { s.Interval = defaultSyncInterval },
		},
		durationFieldDefault("sync.offset", &s.Offset, defaultSyncOffset),
		durationFieldDefault("sync.lookback", &s.Lookback, defaultSyncLookback),
	)
	s.Source = strings.ToLower(strings.TrimSpace(s.Source))
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.data_root", &s.DataRoot, defaultStoreDataRoot),
		stringFieldDefault("store.reports_db", &s.ReportsDB, defaultStoreReportsDB),
	)
}

func (b *BackfillConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("backfill.workers", &b.Workers, defaultBackfillWorkers),
		intFieldDefault("backfill.max_retries", &b.MaxRetries, defaultBackfillRetries),
		durationFieldDefault("backfill.retry_backoff", &b.RetryBackoff, defaultBackfillBackoff),
		fieldDefault{
			key:   "backfill.increment",
			need:  func() bool { return b.Increment.IsZero() },
			apply: func() { b.Increment = defaultBackfillIncrement },
		},
	)
	b.DefaultSource = strings.ToLower(strings.TrimSpace(b.DefaultSource))
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_cash",
			need:  func() bool { return b.InitialCash <= 0 },
			apply: func() { b.InitialCash = defaultBacktestCash },
		},
		stringFieldDefault("backtest.report_dir", &b.ReportDir, defaultBacktestReportDir),
	)
}

func (s *SourcesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	bn := &s.Binance
	bn.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("sources.binance.rest_base_url", &bn.RESTBaseURL, defaultBinanceREST),
		durationFieldDefault("sources.binance.timeout", &bn.Timeout, defaultSourceTimeout),
		intFieldDefault("sources.binance.requests_per_minute", &bn.RequestsPerMinute, defaultBinanceRPM),
		intFieldDefault("sources.binance.page_limit", &bn.PageLimit, defaultBinancePageLimit),
	)
	gt := &s.Gate
	gt.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("sources.gate.rest_base_url", &gt.RESTBaseURL, defaultGateREST),
		stringFieldDefault("sources.gate.settle", &gt.Settle, defaultGateSettle),
		durationFieldDefault("sources.gate.timeout", &gt.Timeout, defaultSourceTimeout),
		intFieldDefault("sources.gate.requests_per_minute", &gt.RequestsPerMinute, defaultGateRPM),
	)
	av := &s.AlphaVantage
	applyFieldDefaults(keys,
		stringFieldDefault("sources.alphavantage.base_url", &av.BaseURL, defaultAlphaVantageURL),
		stringFieldDefault("sources.alphavantage.api_key_env", &av.APIKeyEnv, defaultAlphaVantageKeyEnv),
		durationFieldDefault("sources.alphavantage.timeout", &av.Timeout, defaultSourceTimeout),
		intFieldDefault("sources.alphavantage.requests_per_minute", &av.RequestsPerMinute, defaultAlphaVantageRPM),
	)
	applyFieldDefaults(keys,
		stringFieldDefault("sources.csv.dir", &s.CSV.Dir, defaultCSVDir),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
