package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/repository"
	"tickforge/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 生成日线数据，可按分段起点注入限流或失败。
type fakeSource struct {
	*repository.InstrumentTable
	mu        sync.Mutex
	limited   map[time.Time]int
	broken    map[time.Time]bool
	calls     int
	readSpans []time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		InstrumentTable: repository.NewInstrumentTable(nil),
		limited:         map[time.Time]int{},
		broken:          map[time.Time]bool{},
	}
}

func (f *fakeSource) ReadChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) ([]chart.Row, error) {
	q := c.Query(ov)
	f.mu.Lock()
	f.calls++
	f.readSpans = append(f.readSpans, q.From)
	if n := f.limited[q.From]; n > 0 {
		f.limited[q.From] = n - 1
		f.mu.Unlock()
		return nil, &repository.RateLimitError{Provider: "fake", RetryAfter: time.Second}
	}
	broken := f.broken[q.From]
	f.mu.Unlock()
	if broken {
		return nil, errors.New("upstream exploded")
	}
	var rows []chart.Row
	for ts := q.From; !ts.After(q.To); ts = ts.AddDate(0, 0, 1) {
		v := float64(ts.YearDay())
		rows = append(rows, chart.Row{Timestamp: ts, Values: map[string]float64{
			"open": v, "high": v + 1, "low": v - 1, "close": v, "volume": 1,
		}})
	}
	return rows, nil
}

func (f *fakeSource) WriteChart(ctx context.Context, c *chart.Chart, ov chart.Overrides) error {
	return repository.ErrUnsupported
}

func (f *fakeSource) GetLastPrice(ctx context.Context, symbol string, at *time.Time, intent repository.Intent) (float64, error) {
	return 0, repository.ErrDataGap
}

var (
	jan1  = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1  = time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)
	mar31 = time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, src *fakeSource, maxRetries int) (*Service, *store.MemoryStore) {
	t.Helper()
	dst := store.NewMemoryStore(nil)
	svc, err := NewService(Config{
		Destination: dst,
		Sources:     map[string]repository.Repository{"fake": src},
		Workers:     2,
		MaxRetries:  maxRetries,
	})
	require.NoError(t, err)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc, dst
}

func dailyKey(t *testing.T) string {
	t.Helper()
	c, err := chart.Candlestick("EURUSD", interval.Days(1))
	require.NoError(t, err)
	return c.Key()
}

func TestRunSplitsMonthlyAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	svc, dst := newTestService(t, src, 3)
	params := Params{Chart: dailyKey(t), From: jan1, To: mar31}

	job, err := svc.Run(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 3, job.Completed)
	assert.Equal(t, 90, job.Rows)
	assert.Equal(t, "fake", job.Params.Source)
	require.NotNil(t, job.FinishedAt)

	c, err := chart.Parse(params.Chart)
	require.NoError(t, err)
	rows, err := dst.ReadChart(ctx, c, chart.Overrides{})
	require.NoError(t, err)
	require.Len(t, rows, 90)

	_, err = svc.Run(ctx, params)
	require.NoError(t, err)
	rows, err = dst.ReadChart(ctx, c, chart.Overrides{})
	require.NoError(t, err)
	assert.Len(t, rows, 90)
	assert.Len(t, svc.JobsSnapshot(), 2)
}

func TestRateLimitedIncrementIsRetried(t *testing.T) {
	src := newFakeSource()
	src.limited[feb1] = 2
	svc, _ := newTestService(t, src, 3)

	job, err := svc.Run(context.Background(), Params{Chart: dailyKey(t), From: jan1, To: mar31})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, 3, job.Increments[1].Attempts)
	assert.Equal(t, 5, src.calls)
}

func TestRetriesAreCapped(t *testing.T) {
	src := newFakeSource()
	src.limited[feb1] = 10
	svc, _ := newTestService(t, src, 1)

	job, err := svc.Run(context.Background(), Params{Chart: dailyKey(t), From: jan1, To: mar31})
	require.NoError(t, err)
	assert.Equal(t, JobStatusPartial, job.Status)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, JobStatusFailed, job.Increments[1].Status)
	assert.Equal(t, 2, job.Increments[1].Attempts)
	assert.Equal(t, 62, job.Rows)
}

func TestAllIncrementsFailing(t *testing.T) {
	src := newFakeSource()
	src.broken[jan1] = true
	svc, _ := newTestService(t, src, 0)

	job, err := svc.Run(context.Background(), Params{Chart: dailyKey(t), From: jan1, To: jan1.AddDate(0, 0, 10)})
	require.Error(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestCleanDropsExistingData(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	svc, dst := newTestService(t, src, 0)
	key := dailyKey(t)
	stale := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	dst.Put(key, []chart.Row{{Timestamp: stale, Values: map[string]float64{"close": 1}}})

	_, err := svc.Run(ctx, Params{Chart: key, From: jan1, To: jan1.AddDate(0, 0, 4), Clean: true})
	require.NoError(t, err)
	c, err := chart.Parse(key)
	require.NoError(t, err)
	w, err := dst.TimeWindow(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, jan1, w.From)
}

func TestSubmitRunsInBackground(t *testing.T) {
	svc, _ := newTestService(t, newFakeSource(), 0)
	job, err := svc.Submit(Params{Chart: dailyKey(t), From: jan1, To: mar31})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	assert.Eventually(t, func() bool {
		snap, ok := svc.JobSnapshot(job.ID)
		return ok && snap.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	snap, _ := svc.JobSnapshot(job.ID)
	assert.Equal(t, JobStatusDone, snap.Status)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t, newFakeSource(), 0)
	_, err := svc.Submit(Params{Chart: "Nope.X", From: jan1, To: mar31})
	assert.ErrorIs(t, err, chart.ErrInvalidKey)
	_, err = svc.Submit(Params{Chart: dailyKey(t), Source: "missing", From: jan1, To: mar31})
	assert.Error(t, err)
	_, err = svc.Submit(Params{Chart: dailyKey(t), From: mar31, To: jan1})
	assert.Error(t, err)
}

type recorderFunc func(ctx context.Context, job Job) error

func (f recorderFunc) SaveJob(ctx context.Context, job Job) error { return f(ctx, job) }

func TestRecorderSeesSubmitAndFinish(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	svc, err := NewService(Config{
		Destination: store.NewMemoryStore(nil),
		Sources:     map[string]repository.Repository{"fake": newFakeSource()},
		Recorder: recorderFunc(func(ctx context.Context, job Job) error {
			mu.Lock()
			statuses = append(statuses, job.Status)
			mu.Unlock()
			return errors.New("ignored")
		}),
	})
	require.NoError(t, err)

	job, err := svc.Run(context.Background(), Params{Chart: dailyKey(t), From: jan1, To: feb1})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, []string{JobStatusPending, JobStatusDone}, statuses)
}

func TestBrokenSourceTripsBreaker(t *testing.T) {
	src := newFakeSource()
	for m := 0; m < 6; m++ {
		src.broken[jan1.AddDate(0, m, 0)] = true
	}
	svc, err := NewService(Config{
		Destination:      store.NewMemoryStore(nil),
		Sources:          map[string]repository.Repository{"fake": src},
		Workers:          1,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
	})
	require.NoError(t, err)

	job, err := svc.Run(context.Background(), Params{Chart: dailyKey(t), From: jan1, To: time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)})
	require.Error(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 6, job.Failed)
	assert.Equal(t, 2, src.calls, "open breaker rejects the remaining increments without calling the source")
	assert.Contains(t, job.Increments[5].Error, "circuit open")
}
