package gate

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

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
	"golang.org/x/time/rate"
)

const (
	gateSettle          = "usdt"
	gateMaxHistoryLimit = 2000
	defaultGateREST     = "https://api.gateio.ws/api/v4"
	defaultRetryAfter   = 10 * time.Second
)

// Source 基于 Gate.io 永续合约 REST 接口的只读仓库，支持 K 线图表。
type Source struct {
	*repository.InstrumentTable
	cfg     Config
	rest    *gateapi.APIClient
	limiter *rate.Limiter
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()

	restClient, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}

	return &Source{
		InstrumentTable: repository.NewInstrumentTable(final.Instruments),
		cfg:             final,
		rest:            restClient,
		limiter:         rate.NewLimiter(rate.Limit(float64(final.RequestsPerMinute)/60), 1),
	}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	if _, err := url.Parse(cfg.RESTBaseURL); err != nil {
		return nil, fmt.Errorf("invalid gate base url: %w", err)
	}
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gate REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

func (s *Source) Name() string { return "gate" }

// ReadChart 按时间分页拉取 K 线；Gate 的 from/to 与 limit 互斥，单页最多 2000 根。
func (s *Source) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	if c.Type().Name != chart.CandlestickType {
		return nil, fmt.Errorf("gate %s: %w", c.Type().Name, repository.ErrUnsupported)
	}
	iv := c.Interval()
	gateInterval, err := intervalString(iv)
	if err != nil {
		return nil, err
	}
	contract, err := contractName(c.Symbol())
	if err != nil {
		return nil, err
	}
	q := c.Query(ov)

	if q.From.IsZero() {
		limit := q.Count
		if limit <= 0 || limit > gateMaxHistoryLimit {
			limit = gateMaxHistoryLimit
		}
		opts := &gateapi.ListFuturesCandlesticksOpts{
			Interval: optional.NewString(gateInterval),
			Limit:    optional.NewInt32(int32(limit)),
		}
		if !q.To.IsZero() {
			// 只给 to 时 Gate 仍以 limit 截断
			opts.To = optional.NewInt64(q.To.Unix())
		}
		rows, err := s.fetch(ctx, contract, opts)
		if err != nil {
			return nil, err
		}
		return dropUnclosed(rows, iv, time.Now().UTC()), nil
	}

	to := q.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	var out []chart.Row
	for _, page := range pages(q.From, to, iv) {
		opts := &gateapi.ListFuturesCandlesticksOpts{
			Interval: optional.NewString(gateInterval),
			From:     optional.NewInt64(page.From.Unix()),
			To:       optional.NewInt64(page.To.Unix()),
		}
		rows, err := s.fetch(ctx, contract, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	if q.Count > 0 && len(out) > q.Count {
		out = out[len(out)-q.Count:]
	}
	return dropUnclosed(out, iv, time.Now().UTC()), nil
}

// pages 把 [from, to] 切成每页不超过 gateMaxHistoryLimit 根的闭区间。
func pages(from, to time.Time, iv interval.Interval) []interval.Span {
	step := iv.Delta() * time.Duration(gateMaxHistoryLimit-1)
	if step <= 0 {
		return []interval.Span{{From: from, To: to}}
	}
	var out []interval.Span
	for cur := from; !cur.After(to); {
		end := cur.Add(step)
		if end.After(to) {
			end = to
		}
		out = append(out, interval.Span{From: cur, To: end})
		cur = end.Add(iv.Delta())
	}
	return out
}

func (s *Source) fetch(ctx context.Context, contract string, opts *gateapi.ListFuturesCandlesticksOpts) ([]chart.Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	kls, resp, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, s.cfg.Settle, contract, opts)
	if err != nil {
		logger.Errorf("[gate] fetch kline failed %s %s: %v", contract, opts.Interval.Value(), err)
		return nil, mapError(resp, err)
	}
	out := make([]chart.Row, 0, len(kls))
	for _, kl := range kls {
		out = append(out, chart.Row{
			Timestamp: time.Unix(int64(kl.T), 0).UTC(),
			Values: map[string]float64{
				"open":   parseFloat(kl.O),
				"high":   parseFloat(kl.H),
				"low":    parseFloat(kl.L),
				"close":  parseFloat(kl.C),
				"volume": float64(kl.V),
			},
		})
	}
	logger.Debugf("[gate] %s %s got=%d", contract, opts.Interval.Value(), len(out))
	return out, nil
}

// WriteChart 数据源只读。
func (s *Source) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	return fmt.Errorf("gate: %w", repository.ErrUnsupported)
}

// GetLastPrice 取 at（nil 为当前）所在分钟 K 线的收盘价。
func (s *Source) GetLastPrice(ctx context.Context, sym string, at *time.Time, intent repository.Intent) (float64, error) {
	contract, err := contractName(sym)
	if err != nil {
		return 0, err
	}
	opts := &gateapi.ListFuturesCandlesticksOpts{
		Interval: optional.NewString("1m"),
		Limit:    optional.NewInt32(1),
	}
	if at != nil {
		opts.To = optional.NewInt64(at.Unix())
	}
	rows, err := s.fetch(ctx, contract, opts)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
	}
	price := rows[len(rows)-1].Get("close")
	if price <= 0 {
		return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
	}
	return repository.ApplyIntent(price, s.GetSpread(sym), intent), nil
}

// mapError 把 HTTP 429 与 TOO_MANY_REQUESTS 转换为 RateLimitError。
func mapError(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		retry := defaultRetryAfter
		if v, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && v > 0 {
			retry = time.Duration(v) * time.Second
		}
		return &repository.RateLimitError{Provider: "gate", RetryAfter: retry, Message: err.Error()}
	}
	var apiErr gateapi.GateAPIError
	if errors.As(err, &apiErr) && apiErr.Label == "TOO_MANY_REQUESTS" {
		return &repository.RateLimitError{Provider: "gate", RetryAfter: defaultRetryAfter, Message: apiErr.Message}
	}
	return err
}

// contractName 把 ETHUSDT 转为 Gate 合约名 ETH_USDT。
func contractName(raw string) (string, error) {
	sym := symbol.Parse(raw)
	if !sym.Valid() {
		return "", fmt.Errorf("gate: unrecognised symbol %q", raw)
	}
	return sym.Base + "_" + sym.Quote, nil
}

var supportedIntervals = map[string]bool{
	"10s": true, "1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "8h": true, "1d": true, "7d": true,
}

func intervalString(iv interval.Interval) (string, error) {
	out := iv.String()
	if iv.Unit == interval.Week && iv.Amount == 1 {
		out = "7d"
	}
	if !supportedIntervals[out] {
		return "", fmt.Errorf("gate does not support interval %s: %w", iv, repository.ErrUnsupported)
	}
	return out, nil
}

// dropUnclosed 丢弃仍在进行中的最后一根 K 线。
func dropUnclosed(rows []chart.Row, iv interval.Interval, now time.Time) []chart.Row {
	if len(rows) == 0 {
		return rows
	}
	last := rows[len(rows)-1]
	if now.Before(iv.Add(last.Timestamp, 1)) {
		return rows[:len(rows)-1]
	}
	return rows
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
