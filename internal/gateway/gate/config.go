package gate

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
	Settle            string

	Instruments map[string]repository.InstrumentInfo
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultGateREST
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerMinute <= 0 {
		out.RequestsPerMinute = 300
	}
	out.Settle = strings.ToLower(strings.TrimSpace(out.Settle))
	if out.Settle == "" {
		out.Settle = gateSettle
	}
	return out
}
