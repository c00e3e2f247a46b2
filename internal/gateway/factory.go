package gateway

import (
	"fmt"

	"tickforge/internal/config"
	"tickforge/internal/gateway/alphavantage"
	"tickforge/internal/gateway/binance"
	"tickforge/internal/gateway/csvfile"
	"tickforge/internal/gateway/gate"
	"tickforge/internal/repository"
)

// NewSourcesFromConfig 初始化全部已启用的数据源；任一初始化失败即返回错误。
func NewSourcesFromConfig(cfg *config.Config) (map[string]repository.Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	instruments := cfg.InstrumentInfos()
	src := cfg.Sources
	out := make(map[string]repository.Repository)
	if src.Binance.Enabled {
		bn, err := binance.New(binance.Config{
			RESTBaseURL:       src.Binance.RESTBaseURL,
			HTTPTimeout:       src.Binance.Timeout,
			ProxyEnabled:      src.Binance.Proxy.Enabled,
			RESTProxyURL:      src.Binance.Proxy.RESTURL,
			RequestsPerMinute: src.Binance.RequestsPerMinute,
			PageLimit:         src.Binance.PageLimit,
			Instruments:       instruments,
		})
		if err != nil {
			return nil, fmt.Errorf("init binance source: %w", err)
		}
		out["binance"] = bn
	}
	if src.Gate.Enabled {
		gt, err := gate.New(gate.Config{
			RESTBaseURL:       src.Gate.RESTBaseURL,
			HTTPTimeout:       src.Gate.Timeout,
			ProxyEnabled:      src.Gate.Proxy.Enabled,
			RESTProxyURL:      src.Gate.Proxy.RESTURL,
			RequestsPerMinute: src.Gate.RequestsPerMinute,
			Settle:            src.Gate.Settle,
			Instruments:       instruments,
		})
		if err != nil {
			return nil, fmt.Errorf("init gate source: %w", err)
		}
		out["gate"] = gt
	}
	if src.AlphaVantage.Enabled {
		av, err := alphavantage.New(alphavantage.Config{
			BaseURL:           src.AlphaVantage.BaseURL,
			APIKey:            src.AlphaVantage.ResolveAPIKey(),
			HTTPTimeout:       src.AlphaVantage.Timeout,
			RequestsPerMinute: src.AlphaVantage.RequestsPerMinute,
			Instruments:       instruments,
		})
		if err != nil {
			return nil, fmt.Errorf("init alphavantage source: %w", err)
		}
		out["alphavantage"] = av
	}
	if src.CSV.Enabled {
		cs, err := csvfile.New(src.CSV.Dir, instruments)
		if err != nil {
			return nil, fmt.Errorf("init csv source: %w", err)
		}
		out["csv"] = cs
	}
	return out, nil
}
