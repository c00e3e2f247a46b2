package config

import (
	"os"
	"strings"
	"time"

	"tickforge/internal/interval"
	"tickforge/internal/repository"
)

// Config 是 tickforge 的主配置载体。
type Config struct {
	App         AppConfig                   `toml:"app"`
	Store       StoreConfig                 `toml:"store"`
	Backfill    BackfillConfig              `toml:"backfill"`
	Backtest    BacktestConfig              `toml:"backtest"`
	Sources     SourcesConfig               `toml:"sources"`
	Sync        SyncConfig                  `toml:"sync"`
	Instruments map[string]InstrumentConfig `toml:"instruments"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
	LogPath     string `toml:"log_path"`
	JournalPath string `toml:"journal_path"`
	HTTPAddr    string `toml:"http_addr"`
	// EnvFile 在解析 sources 之前加载，用于注入 API key。
	EnvFile string `toml:"env_file"`
}

type StoreConfig struct {
	DataRoot  string `toml:"data_root"`
	ReportsDB string `toml:"reports_db"`
}

type BackfillConfig struct {
	Workers       int               `toml:"workers"`
	Increment     interval.Interval `toml:"increment"`
	MaxRetries    int               `toml:"max_retries"`
	RetryBackoff  time.Duration     `toml:"retry_backoff"`
	DefaultSource string            `toml:"default_source"`
	// 数据源连续失败 BreakerThreshold 次后暂停 BreakerCooldown，0 使用内置默认。
	BreakerThreshold int           `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration `toml:"breaker_cooldown"`
}

type BacktestConfig struct {
	InitialCash float64       `toml:"initial_cash"`
	Latency     time.Duration `toml:"latency"`
	ReportDir   string        `toml:"report_dir"`
	ExportPNG   bool          `toml:"export_png"`
}

// SyncConfig 控制服务模式下的增量同步：每根 K 线收盘后 Offset 处补齐 Charts 的最新数据。
type SyncConfig struct {
	Enabled  bool              `toml:"enabled"`
	Charts   []string          `toml:"charts"`
	Source   string            `toml:"source"`
	Interval interval.Interval `toml:"interval"`
	Offset   time.Duration     `toml:"offset"`
	// Lookback 为集合为空时首次同步的回看长度。
	Lookback time.Duration `toml:"lookback"`
}

// SourcesConfig 描述可用的外部数据源，未启用的不会初始化。
type SourcesConfig struct {
	Binance      BinanceSource      `toml:"binance"`
	Gate         GateSource         `toml:"gate"`
	AlphaVantage AlphaVantageSource `toml:"alphavantage"`
	CSV          CSVSource          `toml:"csv"`
}

type BinanceSource struct {
	Enabled           bool          `toml:"enabled"`
	RESTBaseURL       string        `toml:"rest_base_url"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
	PageLimit         int           `toml:"page_limit"`
	Proxy             ProxyConfig   `toml:"proxy"`
}

type GateSource struct {
	Enabled           bool          `toml:"enabled"`
	RESTBaseURL       string        `toml:"rest_base_url"`
	Settle            string        `toml:"settle"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
	Proxy             ProxyConfig   `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	if p.RESTURL == "" {
		p.Enabled = false
	}
}

type AlphaVantageSource struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	// APIKey 为空时读取 APIKeyEnv 指向的环境变量。
	APIKey            string        `toml:"api_key"`
	APIKeyEnv         string        `toml:"api_key_env"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
}

type CSVSource struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type InstrumentConfig struct {
	PipSize   float64 `toml:"pip_size"`
	PointSize float64 `toml:"point_size"`
	Digits    int     `toml:"digits"`
}

// InstrumentInfos 把品种覆盖表转换为仓库使用的元数据。
func (c *Config) InstrumentInfos() map[string]repository.InstrumentInfo {
	if len(c.Instruments) == 0 {
		return nil
	}
	out := make(map[string]repository.InstrumentInfo, len(c.Instruments))
	for sym, info := range c.Instruments {
		out[strings.ToUpper(strings.TrimSpace(sym))] = repository.InstrumentInfo{
			PipSize:   info.PipSize,
			PointSize: info.PointSize,
			Digits:    info.Digits,
		}
	}
	return out
}

// EnabledSources 返回已启用的数据源名称。
func (s SourcesConfig) EnabledSources() []string {
	var out []string
	if s.Binance.Enabled {
		out = append(out, "binance")
	}
	if s.Gate.Enabled {
		out = append(out, "gate")
	}
	if s.AlphaVantage.Enabled {
		out = append(out, "alphavantage")
	}
	if s.CSV.Enabled {
		out = append(out, "csv")
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// ResolveAPIKey 优先使用配置中的 key，其次读取环境变量。
func (a AlphaVantageSource) ResolveAPIKey() string {
	if key := strings.TrimSpace(a.APIKey); key != "" {
		return key
	}
	if a.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(a.APIKeyEnv))
}
