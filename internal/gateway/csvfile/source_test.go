package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const export = `Date,Time,Open,High,Low,Close,Volume
2021.05.13,12:00,1.2000,1.2006,1.1999,1.2005,10
2021.05.13,12:01,1.2005,1.2011,1.2001,1.2010,12
2021.05.13,12:02,1.2010,1.2015,1.2005,1.2012,9
`

func setup(t *testing.T) (*Source, *chart.Chart) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EURUSD_1m.csv"), []byte(export), 0o644))
	s, err := New(dir, nil)
	require.NoError(t, err)
	c, err := chart.Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	return s, c
}

func TestReadExport(t *testing.T) {
	s, c := setup(t)
	rows, err := s.ReadChart(context.Background(), c, chart.Overrides{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC), rows[0].Timestamp)
	assert.Equal(t, 1.2012, rows[2].Get("close"))
	assert.Equal(t, 12.0, rows[1].Get("volume"))
}

func TestWriteMergesByTimestamp(t *testing.T) {
	ctx := context.Background()
	s, c := setup(t)
	ts := time.Date(2021, 5, 13, 12, 2, 0, 0, time.UTC)
	c.SetRows([]chart.Row{
		{Timestamp: ts, Values: map[string]float64{"open": 1.3, "high": 1.3, "low": 1.3, "close": 1.3, "volume": 1}},
		{Timestamp: ts.Add(time.Minute), Values: map[string]float64{"open": 1.4, "high": 1.4, "low": 1.4, "close": 1.4, "volume": 1}},
	})
	require.NoError(t, s.WriteChart(ctx, c, chart.Overrides{}))
	require.NoError(t, s.WriteChart(ctx, c, chart.Overrides{}))

	fresh, err := chart.Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	rows, err := s.ReadChart(ctx, fresh, chart.Overrides{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 1.3, rows[2].Get("close"))
	assert.Equal(t, 1.4, rows[3].Get("close"))
}

func TestLastPriceFromFiles(t *testing.T) {
	s, _ := setup(t)
	at := time.Date(2021, 5, 13, 12, 1, 30, 0, time.UTC)
	p, err := s.GetLastPrice(context.Background(), "EURUSD", &at, repository.IntentNone)
	require.NoError(t, err)
	assert.Equal(t, 1.2010, p)

	_, err = s.GetLastPrice(context.Background(), "GBPUSD", nil, repository.IntentNone)
	assert.ErrorIs(t, err, repository.ErrDataGap)
}

func TestMissingFileIsEmpty(t *testing.T) {
	s, _ := setup(t)
	c, err := chart.Candlestick("USDJPY", interval.Hours(1))
	require.NoError(t, err)
	rows, err := s.ReadChart(context.Background(), c, chart.Overrides{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNewRejectsMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}
