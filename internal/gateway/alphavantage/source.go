package alphavantage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/pkg/symbol"
	"tickforge/internal/repository"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://www.alphavantage.co/query"
	defaultRetryAfter = time.Minute
	timeLayout        = "2006-01-02 15:04:05"
	dateLayout        = "2006-01-02"
)

type Config struct {
	BaseURL           string
	APIKey            string
	HTTPTimeout       time.Duration
	RequestsPerMinute int
	Instruments       map[string]repository.InstrumentInfo
}

func (c Config) withDefaults() Config {
	out := c
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 30 * time.Second
	}
	if out.RequestsPerMinute <= 0 {
		out.RequestsPerMinute = 5
	}
	return out
}

// Source 是基于 Alpha Vantage 外汇接口的只读仓库。
type Source struct {
	*repository.InstrumentTable
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.APIKey) == "" {
		return nil, fmt.Errorf("alphavantage api key is required")
	}
	if _, err := url.Parse(final.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid alphavantage base url: %w", err)
	}
	return &Source{
		InstrumentTable: repository.NewInstrumentTable(final.Instruments),
		cfg:             final,
		client:          &http.Client{Timeout: final.HTTPTimeout},
		limiter:         rate.NewLimiter(rate.Limit(float64(final.RequestsPerMinute)/60), 1),
	}, nil
}

func (s *Source) Name() string { return "alphavantage" }

type endpoint struct {
	function string
	interval string // FX_INTRADAY 专用
	dateOnly bool
}

func endpointFor(iv interval.Interval) (endpoint, error) {
	switch {
	case iv.Unit == interval.Minute && (iv.Amount == 1 || iv.Amount == 5 || iv.Amount == 15 || iv.Amount == 30 || iv.Amount == 60):
		return endpoint{function: "FX_INTRADAY", interval: fmt.Sprintf("%dmin", iv.Amount)}, nil
	case iv.Unit == interval.Hour && iv.Amount == 1:
		return endpoint{function: "FX_INTRADAY", interval: "60min"}, nil
	case iv.Unit == interval.Day && iv.Amount == 1:
		return endpoint{function: "FX_DAILY", dateOnly: true}, nil
	case iv.Unit == interval.Week && iv.Amount == 1:
		return endpoint{function: "FX_WEEKLY", dateOnly: true}, nil
	case iv.Unit == interval.Month && iv.Amount == 1:
		return endpoint{function: "FX_MONTHLY", dateOnly: true}, nil
	}
	return endpoint{}, fmt.Errorf("alphavantage does not support interval %s: %w", iv, repository.ErrUnsupported)
}

func (s *Source) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	if c.Type().Name != chart.CandlestickType {
		return nil, fmt.Errorf("alphavantage %s: %w", c.Type().Name, repository.ErrUnsupported)
	}
	ep, err := endpointFor(c.Interval())
	if err != nil {
		return nil, err
	}
	pair := symbol.Parse(c.Symbol())
	if !pair.Valid() {
		return nil, fmt.Errorf("alphavantage: cannot split symbol %s into currencies", c.Symbol())
	}
	params := url.Values{}
	params.Set("function", ep.function)
	params.Set("from_symbol", pair.Base)
	params.Set("to_symbol", pair.Quote)
	params.Set("outputsize", "full")
	if ep.interval != "" {
		params.Set("interval", ep.interval)
	}
	body, err := s.get(ctx, params)
	if err != nil {
		return nil, err
	}
	rows, err := parseSeries(body, ep.dateOnly)
	if err != nil {
		return nil, err
	}
	q := c.Query(ov)
	out := rows[:0]
	for _, r := range rows {
		if q.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	if q.Count > 0 && len(out) > q.Count {
		out = out[len(out)-q.Count:]
	}
	return out, nil
}

func (s *Source) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	return fmt.Errorf("alphavantage: %w", repository.ErrUnsupported)
}

// GetLastPrice 只支持实时汇率（at 必须为空），bid/ask 直接取接口返回值。
func (s *Source) GetLastPrice(ctx context.Context, sym string, at *time.Time, intent repository.Intent) (float64, error) {
	if at != nil {
		return 0, fmt.Errorf("alphavantage historical last price: %w", repository.ErrUnsupported)
	}
	pair := symbol.Parse(sym)
	if !pair.Valid() {
		return 0, fmt.Errorf("alphavantage: cannot split symbol %s into currencies", sym)
	}
	params := url.Values{}
	params.Set("function", "CURRENCY_EXCHANGE_RATE")
	params.Set("from_currency", pair.Base)
	params.Set("to_currency", pair.Quote)
	body, err := s.get(ctx, params)
	if err != nil {
		return 0, err
	}
	quote := gjson.GetBytes(body, "Realtime Currency Exchange Rate")
	if !quote.Exists() {
		return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
	}
	rateVal := quote.Get(`5\. Exchange Rate`).Float()
	bid := quote.Get(`8\. Bid Price`).Float()
	ask := quote.Get(`9\. Ask Price`).Float()
	switch {
	case intent == repository.IntentBuy && ask > 0:
		return ask, nil
	case intent == repository.IntentSell && bid > 0:
		return bid, nil
	case rateVal > 0:
		return repository.ApplyIntent(rateVal, s.GetSpread(sym), intent), nil
	}
	return 0, fmt.Errorf("%s: %w", sym, repository.ErrDataGap)
}

func (s *Source) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("apikey", s.cfg.APIKey)
	u := s.cfg.BaseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &repository.RateLimitError{Provider: "alphavantage", RetryAfter: defaultRetryAfter}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("alphavantage 返回状态码 %d", resp.StatusCode)
	}
	if err := checkPayload(body); err != nil {
		return nil, err
	}
	logger.Debugf("[alphavantage] %s %s bytes=%d", params.Get("function"), params.Get("from_symbol")+params.Get("to_symbol"), len(body))
	return body, nil
}

// checkPayload 识别 200 响应中的限流与错误提示。
func checkPayload(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("alphavantage: invalid json payload")
	}
	for _, key := range []string{"Note", "Information"} {
		if msg := gjson.GetBytes(body, key); msg.Exists() {
			return &repository.RateLimitError{Provider: "alphavantage", RetryAfter: defaultRetryAfter, Message: msg.String()}
		}
	}
	if msg := gjson.GetBytes(body, "Error Message"); msg.Exists() {
		return fmt.Errorf("alphavantage: %s", msg.String())
	}
	return nil
}

// parseSeries 解析 "Time Series FX (...)" 对象，返回升序记录。
func parseSeries(body []byte, dateOnly bool) ([]chart.Row, error) {
	series := gjson.GetBytes(body, "Time Series FX*")
	if !series.Exists() || !series.IsObject() {
		return nil, fmt.Errorf("alphavantage: time series missing")
	}
	layout := timeLayout
	if dateOnly {
		layout = dateLayout
	}
	var rows []chart.Row
	var parseErr error
	series.ForEach(func(key, value gjson.Result) bool {
		ts, err := time.ParseInLocation(layout, key.String(), time.UTC)
		if err != nil {
			parseErr = fmt.Errorf("alphavantage: bad timestamp %q: %w", key.String(), err)
			return false
		}
		rows = append(rows, chart.Row{
			Timestamp: ts,
			Values: map[string]float64{
				"open":  value.Get(`1\. open`).Float(),
				"high":  value.Get(`2\. high`).Float(),
				"low":   value.Get(`3\. low`).Float(),
				"close": value.Get(`4\. close`).Float(),
			},
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}
