package app

import (
	"context"
	"errors"
	"time"

	"tickforge/internal/backfill"
	"tickforge/internal/chart"
	"tickforge/internal/logger"
	"tickforge/internal/repository"
	"tickforge/internal/scheduler"
)

type syncJob struct {
	sched *scheduler.AlignedScheduler
	task  func(ctx context.Context)
}

func (j syncJob) run() { j.sched.Start(j.task) }

// syncSchedulers 为每个同步图表创建一个按 K 线收盘对齐的调度器。
func (a *App) syncSchedulers(ctx context.Context) []syncJob {
	sc := a.cfg.Sync
	if !sc.Enabled || len(sc.Charts) == 0 {
		return nil
	}
	if a.backfill == nil {
		logger.Warnf("[sync] 未启用数据源，跳过增量同步")
		return nil
	}
	out := make([]syncJob, 0, len(sc.Charts))
	for _, key := range sc.Charts {
		sched := scheduler.NewAlignedScheduler(ctx, "sync:"+key, sc.Interval, sc.Offset)
		sched.RunImmediately = true
		out = append(out, syncJob{
			sched: sched,
			task: func(ctx context.Context) {
				if _, err := a.syncChart(ctx, key, time.Now().UTC()); err != nil {
					logger.Warnf("[sync] %s 同步失败: %v", key, err)
				}
			},
		})
	}
	return out
}

// syncChart 从集合已有数据的末尾补齐到 now；集合为空时回看 Lookback。
func (a *App) syncChart(ctx context.Context, key string, now time.Time) (backfill.Job, error) {
	c, err := chart.Parse(key)
	if err != nil {
		return backfill.Job{}, err
	}
	from := now.Add(-a.cfg.Sync.Lookback)
	w, err := a.charts.TimeWindow(ctx, c)
	switch {
	case err == nil && w.Valid():
		from = w.To
	case err != nil && !errors.Is(err, repository.ErrDataGap):
		return backfill.Job{}, err
	}
	if !from.Before(now) {
		return backfill.Job{}, nil
	}
	job, err := a.backfill.Run(ctx, backfill.Params{
		Chart:  c.Key(),
		Source: a.cfg.Sync.Source,
		From:   from,
		To:     now,
	})
	if err != nil {
		return job, err
	}
	logger.With("chart", c.Key(), "job_id", job.ID).Infof("[sync] %s rows=%d status=%s", c.Key(), job.Rows, job.Status)
	return job, nil
}
