package chart

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"tickforge/internal/interval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	mu    sync.Mutex
	rows  map[string][]Row
	calls []Query
	err   error
}

func (s *stubReader) ReadChart(_ context.Context, c *Chart, ov Overrides) ([]Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	q := c.Query(ov)
	s.mu.Lock()
	s.calls = append(s.calls, q)
	s.mu.Unlock()
	var out []Row
	for _, r := range s.rows[c.Key()] {
		if q.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

type countingIndicator struct {
	IndicatorBase
	runs int
}

func (c *countingIndicator) Name() string          { return "double" }
func (c *countingIndicator) QueryFields() []string { return nil }
func (c *countingIndicator) ValueFields() []string { return []string{"value"} }
func (c *countingIndicator) Run(v View) (map[string][]float64, error) {
	c.runs++
	closes, _ := v.Column("close")
	out := make([]float64, len(closes))
	for i, x := range closes {
		out[i] = x * 2
	}
	return map[string][]float64{"value": out}, nil
}

var t0 = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

func candle(ts time.Time, closePrice float64) Row {
	return Row{Timestamp: ts, Values: map[string]float64{
		"open": closePrice, "high": closePrice, "low": closePrice, "close": closePrice, "volume": 1,
	}}
}

func TestKeyRoundTrip(t *testing.T) {
	c, err := Candlestick("eurusd", interval.Minutes(1))
	require.NoError(t, err)
	assert.Equal(t, "CandlestickChart.EURUSD.1m", c.Key())

	parsed, err := Parse(c.Key())
	require.NoError(t, err)
	assert.Equal(t, c.Key(), parsed.Key())
	assert.Equal(t, "EURUSD", parsed.Symbol())
	assert.Equal(t, interval.Minutes(1), parsed.Interval())

	tick, err := Tick("BTCUSDT")
	require.NoError(t, err)
	back, err := Parse(tick.Key())
	require.NoError(t, err)
	assert.Equal(t, tick.Key(), back.Key())
	assert.True(t, back.Interval().IsZero())
}

func TestParseRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "CandlestickChart", "Nope.EURUSD", "CandlestickChart.EURUSD", "CandlestickChart.EURUSD.1x"} {
		_, err := Parse(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestOverridesDoNotMutateChart(t *testing.T) {
	c, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	c.From = t0
	c.Count = 10

	to := t0.Add(time.Hour)
	q := c.Query(Last(3, to))
	assert.Equal(t, 3, q.Count)
	assert.Equal(t, to, q.To)
	assert.Equal(t, t0, q.From)
	assert.Equal(t, 10, c.Count)
	assert.True(t, c.To.IsZero())
}

func TestReadNormalisesRows(t *testing.T) {
	c, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	repo := &stubReader{rows: map[string][]Row{
		c.Key(): {
			candle(t0.Add(2*time.Minute), 1.3),
			candle(t0, 1.1),
			candle(t0.Add(time.Minute), 1.2),
			candle(t0.Add(time.Minute), 1.25),
			{Timestamp: t0.Add(3 * time.Minute), Values: map[string]float64{"close": 1.4, "bogus": 9}},
		},
	}}

	require.NoError(t, c.Read(context.Background(), repo, Overrides{}))
	v := c.View()
	require.Equal(t, 4, v.Len())
	assert.Equal(t, t0, v.At(0))
	assert.Equal(t, 1.25, v.Value("close", 1))
	assert.True(t, math.IsNaN(v.Value("open", 3)))
	assert.NotContains(t, v.Fields(), "bogus")

	rows := c.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, 1.4, rows[3].Get("close"))
}

func TestReadEmptyDeclaresColumns(t *testing.T) {
	c, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	require.NoError(t, c.Read(context.Background(), &stubReader{}, Overrides{}))
	assert.Equal(t, 0, c.Len())
	assert.ElementsMatch(t, []string{"open", "high", "low", "close", "volume"}, c.View().Fields())
}

func TestReadPropagatesErrors(t *testing.T) {
	c, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	boom := errors.New("boom")
	assert.ErrorIs(t, c.Read(context.Background(), &stubReader{err: boom}, Overrides{}), boom)
}

func TestIndicatorCaching(t *testing.T) {
	c, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	ind := &countingIndicator{}
	require.NoError(t, c.Attach(ind))
	assert.Same(t, c, ind.Chart())
	assert.Error(t, c.Attach(&countingIndicator{}))

	repo := &stubReader{rows: map[string][]Row{c.Key(): {candle(t0, 1), candle(t0.Add(time.Minute), 2)}}}
	require.NoError(t, c.Read(context.Background(), repo, Overrides{}))
	assert.Equal(t, 1, ind.runs)
	assert.Equal(t, 4.0, c.View().Last("double.value"))

	require.NoError(t, c.Apply("double", false))
	assert.Equal(t, 1, ind.runs, "cached output must not be recomputed")

	require.NoError(t, c.Apply("double", true))
	assert.Equal(t, 2, ind.runs)

	assert.True(t, c.Detach("double"))
	assert.Nil(t, ind.Chart())
	assert.Error(t, c.Apply("double", false))
}

func TestGroupOuterJoinAndOwnership(t *testing.T) {
	eur, err := Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	gbp, err := Candlestick("GBPUSD", interval.Minutes(1))
	require.NoError(t, err)
	repo := &stubReader{rows: map[string][]Row{
		eur.Key(): {candle(t0, 1.1), candle(t0.Add(time.Minute), 1.2)},
		gbp.Key(): {candle(t0.Add(time.Minute), 1.4), candle(t0.Add(2*time.Minute), 1.5)},
	}}

	g, err := NewGroup(eur, gbp)
	require.NoError(t, err)
	g.Count = 100
	require.NoError(t, g.Read(context.Background(), repo))

	assert.Equal(t, 3, g.Frame().Len())
	assert.True(t, eur.Grouped())
	assert.Equal(t, 100, eur.Count)
	assert.True(t, math.IsNaN(eur.View().Value("close", 2)))
	assert.True(t, math.IsNaN(gbp.View().Value("close", 0)))
	assert.Equal(t, 1.4, gbp.View().Value("close", 1))

	assert.ErrorIs(t, eur.Read(context.Background(), repo, Overrides{}), ErrGrouped)
	_, err = NewGroup(eur)
	assert.ErrorIs(t, err, ErrGrouped)

	g.Release()
	assert.False(t, eur.Grouped())
	assert.Equal(t, 2, eur.Len())
}

type windowSource map[string]Window

func (w windowSource) TimeWindow(_ context.Context, c *Chart) (Window, error) {
	return w[c.Key()], nil
}

func TestCommonTimeWindow(t *testing.T) {
	a, _ := Candlestick("EURUSD", interval.Minutes(1))
	b, _ := Candlestick("GBPUSD", interval.Minutes(1))
	src := windowSource{
		a.Key(): {From: t0, To: t0.Add(2 * time.Hour)},
		b.Key(): {From: t0.Add(time.Hour), To: t0.Add(3 * time.Hour)},
	}
	w, err := CommonTimeWindow(context.Background(), src, a, b)
	require.NoError(t, err)
	assert.True(t, w.Valid())
	assert.Equal(t, t0.Add(time.Hour), w.From)
	assert.Equal(t, t0.Add(2*time.Hour), w.To)
}

func TestCommonTimeWindowMayBeDegenerate(t *testing.T) {
	a, _ := Candlestick("EURUSD", interval.Minutes(1))
	b, _ := Candlestick("GBPUSD", interval.Minutes(1))
	src := windowSource{
		a.Key(): {From: t0, To: t0.Add(time.Hour)},
		b.Key(): {From: t0.Add(2 * time.Hour), To: t0.Add(3 * time.Hour)},
	}
	w, err := CommonTimeWindow(context.Background(), src, a, b)
	require.NoError(t, err)
	assert.False(t, w.Valid())
	assert.True(t, w.From.After(w.To))
	assert.Zero(t, w.Span())
}

func TestFrameHasGaps(t *testing.T) {
	f := NewFrame([]time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)})
	key := ColumnKey{Chart: "x", Field: "y"}
	assert.True(t, f.HasGaps(key))
	require.NoError(t, f.SetColumn(key, []float64{math.NaN(), 1, 2}))
	assert.False(t, f.HasGaps(key), "leading warm-up NaN is not a gap")
	require.NoError(t, f.SetColumn(key, []float64{1, math.NaN(), 2}))
	assert.True(t, f.HasGaps(key))
	assert.Error(t, f.SetColumn(key, []float64{1}))
	assert.Equal(t, 1, f.AsOf(t0.Add(90*time.Second)))
	assert.Equal(t, -1, f.AsOf(t0.Add(-time.Second)))
}
