package binance

import (
	"strings"
	"time"

	"tickforge/internal/repository"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// RequestsPerMinute 为客户端侧限速，0 表示使用默认值。
	RequestsPerMinute int
	// PageLimit 为单次 klines 请求的条数上限。
	PageLimit int

	Instruments map[string]repository.InstrumentInfo
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerMinute <= 0 {
		out.RequestsPerMinute = 1200
	}
	if out.PageLimit <= 0 || out.PageLimit > maxHistoryLimit {
		out.PageLimit = maxHistoryLimit
	}
	return out
}
