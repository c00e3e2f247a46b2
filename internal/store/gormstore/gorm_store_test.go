package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickforge/internal/backfill"
	"tickforge/internal/interval"
	"tickforge/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(runID string, created time.Time) *report.BacktestReport {
	t0 := time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)
	return report.Build(report.Input{
		RunID:       runID,
		Strategy:    "smacross",
		InitialCash: 1000,
		Timesteps:   []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)},
		Equity: []report.EquityPoint{
			{Time: t0, Equity: 1000},
			{Time: t0.Add(time.Minute), Equity: 990},
			{Time: t0.Add(2 * time.Minute), Equity: 1010},
		},
		Positions: []report.PositionRecord{
			{ID: 1, Symbol: "EURUSD", Side: "long", Status: "closed", OpenedAt: t0, ClosedAt: t0.Add(2 * time.Minute), Profit: 10},
		},
		Now:       t0.Add(2 * time.Minute),
		CreatedAt: created,
	})
}

func TestReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := sampleReport("run-1", created)

	require.NoError(t, s.SaveReport(ctx, in))
	// 重复保存覆盖而不是追加
	require.NoError(t, s.SaveReport(ctx, in))

	out, err := s.GetReport(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "smacross", out.Strategy)
	assert.Equal(t, in.Equity, out.Equity)
	assert.Equal(t, in.WinRate, out.WinRate)
	require.Len(t, out.Curve, 3)
	assert.True(t, in.Curve[1].Time.Equal(out.Curve[1].Time))
	assert.Equal(t, 990.0, out.Curve[1].Equity)

	list, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "run-1", list[0].RunID)
	assert.Equal(t, 1010.0, list[0].FinalEquity)
	assert.Equal(t, 3, list[0].Steps)

	_, err = s.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReportsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveReport(ctx, sampleReport("old", base)))
	require.NoError(t, s.SaveReport(ctx, sampleReport("new", base.Add(time.Hour))))

	list, err := s.ListReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].RunID)
	assert.Equal(t, "old", list[1].RunID)
}

func TestJobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := backfill.Job{
		ID:     "job-1",
		Status: backfill.JobStatusRunning,
		Params: backfill.Params{
			Chart:     "Candlestick.EURUSD.1d",
			Source:    "csv",
			From:      started.AddDate(-1, 0, 0),
			To:        started,
			Increment: interval.Months(1),
		},
		Total:     12,
		StartedAt: started,
		UpdatedAt: started,
	}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Status = backfill.JobStatusDone
	job.Rows = 365
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, backfill.JobStatusDone, got.Status)
	assert.Equal(t, 365, got.Rows)
	assert.Equal(t, interval.Months(1), got.Params.Increment)

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = s.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
