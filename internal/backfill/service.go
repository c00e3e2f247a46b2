package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/logger"
	"tickforge/internal/pkg/circuit"
	"tickforge/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config 配置回填服务。
type Config struct {
	Destination   repository.Store
	Sources       map[string]repository.Repository
	DefaultSource string
	Workers       int
	Increment     interval.Interval
	MaxRetries    int
	Backoff       time.Duration
	// 同一数据源连续 BreakerThreshold 次非限流失败后熔断 BreakerCooldown。
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// Recorder 可选，任务提交与结束时保存快照。
	Recorder JobRecorder
}

// JobRecorder 持久化任务快照。
type JobRecorder interface {
	SaveJob(ctx context.Context, job Job) error
}

// Service 管理回填任务：切分窗口、并发拉取、upsert 写库。
type Service struct {
	dst           repository.Store
	sources       map[string]repository.Repository
	defaultSource string
	workers       int
	increment     interval.Interval
	maxRetries    int
	backoff       time.Duration
	recorder      JobRecorder
	breakers      map[string]*circuit.CircuitBreaker

	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	jobs map[string]*Job

	baseCtx context.Context
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Destination == nil {
		return nil, fmt.Errorf("destination store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	svc := &Service{
		dst:           cfg.Destination,
		sources:       make(map[string]repository.Repository, len(cfg.Sources)),
		defaultSource: strings.ToLower(strings.TrimSpace(cfg.DefaultSource)),
		workers:       cfg.Workers,
		increment:     cfg.Increment,
		maxRetries:    cfg.MaxRetries,
		backoff:       cfg.Backoff,
		recorder:      cfg.Recorder,
		breakers:      make(map[string]*circuit.CircuitBreaker, len(cfg.Sources)),
		sleep:         sleepCtx,
		jobs:          make(map[string]*Job),
		baseCtx:       context.Background(),
	}
	if svc.workers <= 0 {
		svc.workers = 4
	}
	if svc.increment.IsZero() {
		svc.increment = interval.Months(1)
	}
	if svc.maxRetries < 0 {
		svc.maxRetries = 0
	}
	if svc.backoff <= 0 {
		svc.backoff = 30 * time.Second
	}
	threshold, cooldown := cfg.BreakerThreshold, cfg.BreakerCooldown
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	for k, v := range cfg.Sources {
		if v == nil {
			continue
		}
		name := strings.ToLower(k)
		svc.sources[name] = v
		svc.breakers[name] = circuit.NewCircuitBreaker("source:"+name, threshold, cooldown)
	}
	if svc.defaultSource == "" && len(svc.sources) == 1 {
		for k := range svc.sources {
			svc.defaultSource = k
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，后台任务随之取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Sources 返回已注册的数据源名称。
func (s *Service) Sources() []string {
	out := make([]string, 0, len(s.sources))
	for k := range s.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type plan struct {
	chart   *chart.Chart
	source  repository.Repository
	breaker *circuit.CircuitBreaker
	spans   []interval.Span
}

func (s *Service) prepare(params *Params) (plan, error) {
	c, err := chart.Parse(params.Chart)
	if err != nil {
		return plan{}, err
	}
	params.Chart = c.Key()
	name := strings.ToLower(strings.TrimSpace(params.Source))
	if name == "" {
		name = s.defaultSource
	}
	src := s.sources[name]
	if src == nil {
		return plan{}, fmt.Errorf("unknown source %q", params.Source)
	}
	params.Source = name
	if params.From.IsZero() || params.To.IsZero() {
		return plan{}, fmt.Errorf("from and to are required")
	}
	params.From, params.To = params.From.UTC(), params.To.UTC()
	if params.To.Before(params.From) {
		return plan{}, fmt.Errorf("from %s is after to %s", params.From.Format(time.RFC3339), params.To.Format(time.RFC3339))
	}
	if params.Increment.IsZero() {
		params.Increment = s.increment
	}
	return plan{
		chart:   c,
		source:  src,
		breaker: s.breakers[name],
		spans:   interval.Split(params.From, params.To, params.Increment),
	}, nil
}

func (s *Service) register(params Params, p plan) *Job {
	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.NewString(),
		Status:     JobStatusPending,
		Params:     params,
		Total:      len(p.spans),
		Increments: make([]Increment, len(p.spans)),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	for i, sp := range p.spans {
		job.Increments[i] = Increment{From: sp.From, To: sp.To, Status: JobStatusPending}
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[backfill] 任务 %s 提交：%s <- %s [%s, %s] 分段=%d clean=%v", job.ID, params.Chart, params.Source,
		params.From.Format(time.RFC3339), params.To.Format(time.RFC3339), job.Total, params.Clean)
	s.record(job.ID)
	return job
}

// Submit 提交任务并在后台执行，立即返回任务快照。
func (s *Service) Submit(params Params) (Job, error) {
	p, err := s.prepare(&params)
	if err != nil {
		return Job{}, err
	}
	job := s.register(params, p)
	go s.run(s.ctx(), job.ID, p)
	return job.copy(), nil
}

// Run 同步执行任务，供命令行使用。
func (s *Service) Run(ctx context.Context, params Params) (Job, error) {
	p, err := s.prepare(&params)
	if err != nil {
		return Job{}, err
	}
	job := s.register(params, p)
	s.run(ctx, job.ID, p)
	snap, _ := s.JobSnapshot(job.ID)
	if snap.Status == JobStatusFailed {
		return snap, fmt.Errorf("backfill %s failed: %s", snap.ID, snap.Message)
	}
	return snap, nil
}

func (s *Service) run(ctx context.Context, jobID string, p plan) {
	s.updateJob(jobID, func(j *Job) {
		j.Status = JobStatusRunning
	})
	if snap, ok := s.JobSnapshot(jobID); ok && snap.Params.Clean {
		if err := s.dst.Clean(ctx, p.chart); err != nil {
			s.finish(jobID, JobStatusFailed, fmt.Sprintf("clean %s: %v", p.chart.Key(), err))
			return
		}
		logger.Warnf("[backfill] 任务 %s 已清空集合 %s", jobID, p.chart.Key())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, span := range p.spans {
		i, span := i, span
		g.Go(func() error {
			// 单个分段失败不影响其它分段；只有 ctx 取消才终止整个任务。
			rows, attempts, err := s.fetchIncrement(gctx, jobID, p, span)
			s.updateJob(jobID, func(j *Job) {
				inc := &j.Increments[i]
				inc.Attempts = attempts
				inc.Rows = rows
				if err != nil {
					inc.Status = JobStatusFailed
					inc.Error = err.Error()
					j.Failed++
					j.Warnings = append(j.Warnings, fmt.Sprintf("[%s, %s] %v", span.From.Format(time.RFC3339), span.To.Format(time.RFC3339), err))
				} else {
					inc.Status = JobStatusDone
					j.Completed++
					j.Rows += rows
				}
				j.UpdatedAt = time.Now().UTC()
			})
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.finish(jobID, JobStatusFailed, err.Error())
		return
	}
	snap, _ := s.JobSnapshot(jobID)
	switch {
	case snap.Failed == 0:
		s.finish(jobID, JobStatusDone, fmt.Sprintf("%d increments, %d rows", snap.Completed, snap.Rows))
	case snap.Completed == 0:
		s.finish(jobID, JobStatusFailed, "all increments failed")
	default:
		s.finish(jobID, JobStatusPartial, fmt.Sprintf("%d of %d increments failed", snap.Failed, snap.Total))
	}
}

// fetchIncrement 读取单个分段并写入目标；限流时等待后重试同一分段。
func (s *Service) fetchIncrement(ctx context.Context, jobID string, p plan, span interval.Span) (int, int, error) {
	ov := chart.Between(span.From, span.To)
	attempts := 0
	for {
		attempts++
		if err := ctx.Err(); err != nil {
			return 0, attempts, err
		}
		c := p.chart.Clone()
		err := p.breaker.Do(func() error {
			return c.Read(ctx, p.source, ov)
		}, countsAsOutage)
		if err == nil {
			if c.Len() == 0 {
				return 0, attempts, nil
			}
			err = c.Write(ctx, s.dst, ov)
			if err == nil {
				return c.Len(), attempts, nil
			}
		}
		var rl *repository.RateLimitError
		if !errors.As(err, &rl) || attempts > s.maxRetries {
			return 0, attempts, err
		}
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = s.backoff
		}
		logger.With("job", jobID, "chart", p.chart.Key(), "from", span.From, "attempt", attempts).
			Warnf("[backfill] 数据源限流，%s 后重试", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return 0, attempts, err
		}
	}
}

func (s *Service) finish(jobID, status, message string) {
	now := time.Now().UTC()
	s.updateJob(jobID, func(j *Job) {
		j.Status = status
		j.Message = message
		j.UpdatedAt = now
		j.FinishedAt = &now
	})
	logger.Infof("[backfill] 任务 %s 结束，状态=%s %s", jobID, status, message)
	s.record(jobID)
}

func (s *Service) record(jobID string) {
	if s.recorder == nil {
		return
	}
	snap, ok := s.JobSnapshot(jobID)
	if !ok {
		return
	}
	// 宿主 ctx 可能已取消，结束快照仍需落库
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.SaveJob(ctx, snap); err != nil {
		logger.With("job", jobID).Warnf("[backfill] 保存任务快照失败: %v", err)
	}
}

func (s *Service) updateJob(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 按提交时间返回全部任务副本。
func (s *Service) JobsSnapshot() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// countsAsOutage 判断读取错误是否计入熔断；限流与取消不算数据源故障。
func countsAsOutage(err error) bool {
	var rl *repository.RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
