package scheduler

import (
	"context"
	"time"

	"tickforge/internal/interval"
	"tickforge/internal/logger"
)

// AlignedScheduler 在每根 K 线收盘后 Offset 处执行任务（墙钟），用于服务模式下的增量同步。
type AlignedScheduler struct {
	Name           string
	Interval       interval.Interval
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, name string, iv interval.Interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Name:     name,
		Interval: iv,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞直到 ctx 结束。
func (s *AlignedScheduler) Start(task func(ctx context.Context)) {
	if s == nil {
		return
	}
	log := logger.With("scheduler", s.Name, "interval", s.Interval.String())
	if task == nil {
		log.Warnf("AlignedScheduler: task is nil, exit")
		return
	}
	if s.Interval.Amount <= 0 {
		log.Warnf("AlignedScheduler: invalid interval, exit")
		return
	}
	if s.Offset < 0 {
		log.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	log.Infof("AlignedScheduler: started offset=%s run_immediately=%v at=%s", s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(s.ctx)
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)
		log.Debugf("AlignedScheduler: 距离K线收盘=%s (收盘=%s) 将在=%s 执行 | uptime=%s",
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				log.Infof("AlignedScheduler: ctx done, exit")
				return
			case <-timer.C:
			}
		} else if s.ctx.Err() != nil {
			return
		}
		task(s.ctx)
	}
}

// nextTimes 返回最近一个尚未到达的 "收盘+Offset" 时刻；日历周期按 interval.Truncate 对齐。
func (s *AlignedScheduler) nextTimes(now time.Time) (closeAt, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	closeAt = s.Interval.Truncate(now)
	wakeAt = closeAt.Add(s.Offset)
	if !wakeAt.After(now) {
		closeAt = s.Interval.Add(closeAt, 1)
		wakeAt = closeAt.Add(s.Offset)
	}
	return closeAt, wakeAt, wakeAt.Sub(now)
}
