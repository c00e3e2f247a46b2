package indicator

import (
	"fmt"
	"math"

	"tickforge/internal/chart"

	"github.com/markcheno/go-talib"
)

// 各指标在 Frame 中的输出字段。
const (
	FieldValue  = "value"
	FieldMACD   = "macd"
	FieldSignal = "signal"
	FieldHist   = "hist"
	FieldUpper  = "upper"
	FieldMiddle = "middle"
	FieldLower  = "lower"
)

// SMA 简单移动平均。
type SMA struct {
	chart.IndicatorBase
	Period int
	Source string
}

func NewSMA(period int) *SMA { return &SMA{Period: period, Source: "close"} }

func (s *SMA) Name() string          { return fmt.Sprintf("sma(%d)", s.Period) }
func (s *SMA) QueryFields() []string { return []string{fmt.Sprintf("period=%d", s.Period), "source=" + s.Source} }
func (s *SMA) ValueFields() []string { return []string{FieldValue} }

func (s *SMA) Run(v chart.View) (map[string][]float64, error) {
	if err := checkPeriod(s.Name(), s.Period); err != nil {
		return nil, err
	}
	in, err := column(v, s.Source)
	if err != nil {
		return nil, err
	}
	return single(warmup(in, s.Period-1, func() []float64 { return talib.Sma(in, s.Period) })), nil
}

// EMA 指数移动平均。
type EMA struct {
	chart.IndicatorBase
	Period int
	Source string
}

func NewEMA(period int) *EMA { return &EMA{Period: period, Source: "close"} }

func (e *EMA) Name() string          { return fmt.Sprintf("ema(%d)", e.Period) }
func (e *EMA) QueryFields() []string { return []string{fmt.Sprintf("period=%d", e.Period), "source=" + e.Source} }
func (e *EMA) ValueFields() []string { return []string{FieldValue} }

func (e *EMA) Run(v chart.View) (map[string][]float64, error) {
	if err := checkPeriod(e.Name(), e.Period); err != nil {
		return nil, err
	}
	in, err := column(v, e.Source)
	if err != nil {
		return nil, err
	}
	return single(warmup(in, e.Period-1, func() []float64 { return talib.Ema(in, e.Period) })), nil
}

// RSI 相对强弱指标。
type RSI struct {
	chart.IndicatorBase
	Period int
}

func NewRSI(period int) *RSI { return &RSI{Period: period} }

func (r *RSI) Name() string          { return fmt.Sprintf("rsi(%d)", r.Period) }
func (r *RSI) QueryFields() []string { return []string{fmt.Sprintf("period=%d", r.Period)} }
func (r *RSI) ValueFields() []string { return []string{FieldValue} }

func (r *RSI) Run(v chart.View) (map[string][]float64, error) {
	if err := checkPeriod(r.Name(), r.Period); err != nil {
		return nil, err
	}
	in, err := column(v, "close")
	if err != nil {
		return nil, err
	}
	return single(warmup(in, r.Period, func() []float64 { return talib.Rsi(in, r.Period) })), nil
}

// MACD 输出 macd/signal/hist 三列。
type MACD struct {
	chart.IndicatorBase
	Fast, Slow, Signal int
}

func NewMACD(fast, slow, signal int) *MACD { return &MACD{Fast: fast, Slow: slow, Signal: signal} }

func (m *MACD) Name() string { return fmt.Sprintf("macd(%d,%d,%d)", m.Fast, m.Slow, m.Signal) }
func (m *MACD) QueryFields() []string {
	return []string{fmt.Sprintf("fast=%d", m.Fast), fmt.Sprintf("slow=%d", m.Slow), fmt.Sprintf("signal=%d", m.Signal)}
}
func (m *MACD) ValueFields() []string { return []string{FieldMACD, FieldSignal, FieldHist} }

func (m *MACD) Run(v chart.View) (map[string][]float64, error) {
	if m.Fast < 1 || m.Slow <= m.Fast || m.Signal < 1 {
		return nil, fmt.Errorf("%s: require 0 < fast < slow and signal > 0", m.Name())
	}
	in, err := column(v, "close")
	if err != nil {
		return nil, err
	}
	lookback := m.Slow - 1 + m.Signal - 1
	if len(in) <= lookback {
		return map[string][]float64{FieldMACD: nans(len(in)), FieldSignal: nans(len(in)), FieldHist: nans(len(in))}, nil
	}
	macd, signal, hist := talib.Macd(in, m.Fast, m.Slow, m.Signal)
	return map[string][]float64{
		FieldMACD:   blank(macd, lookback),
		FieldSignal: blank(signal, lookback),
		FieldHist:   blank(hist, lookback),
	}, nil
}

// ATR 平均真实波幅。
type ATR struct {
	chart.IndicatorBase
	Period int
}

func NewATR(period int) *ATR { return &ATR{Period: period} }

func (a *ATR) Name() string          { return fmt.Sprintf("atr(%d)", a.Period) }
func (a *ATR) QueryFields() []string { return []string{fmt.Sprintf("period=%d", a.Period)} }
func (a *ATR) ValueFields() []string { return []string{FieldValue} }

func (a *ATR) Run(v chart.View) (map[string][]float64, error) {
	if err := checkPeriod(a.Name(), a.Period); err != nil {
		return nil, err
	}
	highs, err := column(v, "high")
	if err != nil {
		return nil, err
	}
	lows, err := column(v, "low")
	if err != nil {
		return nil, err
	}
	closes, err := column(v, "close")
	if err != nil {
		return nil, err
	}
	return single(warmup(closes, a.Period, func() []float64 { return talib.Atr(highs, lows, closes, a.Period) })), nil
}

// BBands 布林带，输出 upper/middle/lower。
type BBands struct {
	chart.IndicatorBase
	Period int
	Dev    float64
}

func NewBBands(period int, dev float64) *BBands { return &BBands{Period: period, Dev: dev} }

func (b *BBands) Name() string { return fmt.Sprintf("bbands(%d,%g)", b.Period, b.Dev) }
func (b *BBands) QueryFields() []string {
	return []string{fmt.Sprintf("period=%d", b.Period), fmt.Sprintf("dev=%g", b.Dev)}
}
func (b *BBands) ValueFields() []string { return []string{FieldUpper, FieldMiddle, FieldLower} }

func (b *BBands) Run(v chart.View) (map[string][]float64, error) {
	if err := checkPeriod(b.Name(), b.Period); err != nil {
		return nil, err
	}
	in, err := column(v, "close")
	if err != nil {
		return nil, err
	}
	lookback := b.Period - 1
	if len(in) <= lookback {
		return map[string][]float64{FieldUpper: nans(len(in)), FieldMiddle: nans(len(in)), FieldLower: nans(len(in))}, nil
	}
	upper, middle, lower := talib.BBands(in, b.Period, b.Dev, b.Dev, talib.SMA)
	return map[string][]float64{
		FieldUpper:  blank(upper, lookback),
		FieldMiddle: blank(middle, lookback),
		FieldLower:  blank(lower, lookback),
	}, nil
}

func checkPeriod(name string, period int) error {
	if period < 1 {
		return fmt.Errorf("%s: period must be >= 1", name)
	}
	return nil
}

func column(v chart.View, field string) ([]float64, error) {
	col, ok := v.Column(field)
	if !ok {
		return nil, fmt.Errorf("column %s not found", field)
	}
	return col, nil
}

func single(series []float64) map[string][]float64 {
	return map[string][]float64{FieldValue: series}
}

// warmup 在样本不足时直接返回全 NaN，否则计算并把前 lookback 个预热值置为 NaN。
// talib 以 0 填充预热区，这里统一改成缺口，便于缓存判断。
func warmup(in []float64, lookback int, compute func() []float64) []float64 {
	if lookback < 0 {
		lookback = 0
	}
	if len(in) <= lookback {
		return nans(len(in))
	}
	return blank(compute(), lookback)
}

func blank(series []float64, lookback int) []float64 {
	out := append([]float64(nil), series...)
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	for i, v := range out {
		if math.IsInf(v, 0) {
			out[i] = math.NaN()
		}
	}
	return out
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
