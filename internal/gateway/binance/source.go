package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/pkg/symbol"
	"tickforge/internal/repository"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const (
	maxHistoryLimit = 1500

	// Binance 限流相关错误码：-1003 请求过多，-1015 下单过多。
	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015

	defaultRetryAfter = time.Minute
)

// Source 基于 go-binance SDK 的只读仓库，支持 K 线图表。
type Source struct {
	*repository.InstrumentTable
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if _, err := url.Parse(final.RESTBaseURL); err != nil {
		return nil, fmt.Errorf("invalid binance base url: %w", err)
	}
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	perSecond := rate.Limit(float64(final.RequestsPerMinute) / 60)
	return &Source{
		InstrumentTable: repository.NewInstrumentTable(final.Instruments),
		cfg:             final,
		client:          client,
		limiter:         rate.NewLimiter(perSecond, 1),
	}, nil
}

func (s *Source) Name() string { return "binance" }

// ReadChart 分页拉取窗口内的 K 线，未收盘的最后一根会被丢弃。
func (s *Source) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	if c.Type().Name != chart.CandlestickType {
		return nil, fmt.Errorf("binance %s: %w", c.Type().Name, repository.ErrUnsupported)
	}
	iv := c.Interval()
	binInterval, err := intervalString(iv)
	if err != nil {
		return nil, err
	}
	sym := symbol.Normalize(c.Symbol())
	q := c.Query(ov)

	if q.Count > 0 && q.From.IsZero() {
		limit := q.Count
		if limit > s.cfg.PageLimit {
			limit = s.cfg.PageLimit
		}
		rows, err := s.fetch(ctx, sym, binInterval, 0, endMillis(q.To), limit)
		if err != nil {
			return nil, err
		}
		return dropUnclosed(rows, iv, time.Now().UTC(), defaultKlineGrace), nil
	}

	var out []chart.Row
	start := int64(0)
	if !q.From.IsZero() {
		start = q.From.UnixMilli()
	}
	end := endMillis(q.To)
	for {
		page, err := s.fetch(ctx, sym, binInterval, start, end, s.cfg.PageLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < s.cfg.PageLimit {
			break
		}
		last := page[len(page)-1].Timestamp.UnixMilli()
		if end > 0 && last >= end {
			break
		}
		start = last + 1
	}
	if q.Count > 0 && len(out) > q.Count {
		out = out[len(out)-q.Count:]
	}
	return dropUnclosed(out, iv, time.Now().UTC(), defaultKlineGrace), nil
}

func endMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *Source) fetch(ctx context.Context, sym, iv string, start, end int64, limit int) ([]chart.Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := s.client.NewKlinesService().Symbol(sym).Interval(iv).Limit(limit)
	if start > 0 {
		svc = svc.StartTime(start)
	}
	if end > 0 {
		svc = svc.EndTime(end)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]chart.Row, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, chart.Row{
			Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
			Values: map[string]float64{
				"open":   parseFloat(kl.Open),
				"high":   parseFloat(kl.High),
				"low":    parseFloat(kl.Low),
				"close":  parseFloat(kl.Close),
				"volume": parseFloat(kl.Volume),
			},
		})
	}
	logger.Debugf("[binance] %s %s start=%d end=%d got=%d", sym, iv, start, end, len(out))
	return out, nil
}

// WriteChart 数据源只读。
func (s *Source) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	return fmt.Errorf("binance: %w", repository.ErrUnsupported)
}

// GetLastPrice at 为空时取最新成交价，否则取 at 所在分钟 K 线的收盘价。
func (s *Source) GetLastPrice(ctx context.Context, sym string, at *time.Time, intent repository.Intent) (float64, error) {
	clean := symbol.Normalize(sym)
	var price float64
	if at == nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
		if err != nil {
			return 0, mapError(err)
		}
		if len(prices) == 0 || prices[0] == nil {
			return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
		}
		price = parseFloat(prices[0].Price)
	} else {
		rows, err := s.fetch(ctx, clean, "1m", 0, at.UnixMilli(), 1)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, fmt.Errorf("%s at %s: %w", sym, at.UTC().Format(time.RFC3339), repository.ErrDataGap)
		}
		price = rows[0].Get("close")
	}
	if price <= 0 {
		return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
	}
	return repository.ApplyIntent(price, s.GetSpread(sym), intent), nil
}

// mapError 把 Binance 限流错误转换为 RateLimitError。
func mapError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeTooManyRequests || apiErr.Code == codeTooManyOrders {
			return &repository.RateLimitError{Provider: "binance", RetryAfter: defaultRetryAfter, Message: apiErr.Message}
		}
	}
	return err
}

var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

func intervalString(iv interval.Interval) (string, error) {
	var out string
	switch iv.Unit {
	case interval.Month:
		out = strconv.Itoa(iv.Amount) + "M"
	default:
		out = iv.String()
	}
	if !supportedIntervals[out] {
		return "", fmt.Errorf("binance does not support interval %s: %w", iv, repository.ErrUnsupported)
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
