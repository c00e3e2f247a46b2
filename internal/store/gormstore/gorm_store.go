package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tickforge/internal/backfill"
	"tickforge/internal/report"
	"tickforge/internal/store"
	"tickforge/internal/store/model"
	"tickforge/internal/store/sqlite"

	"gorm.io/datatypes"
)

var ErrNotFound = errors.New("record not found")

// GormStore 持久化回测报告与回填任务，实现 report.Sink 与 backfill.JobRecorder。
type GormStore struct {
	db *sqlite.SqliteStore
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	db, err := sqlite.NewSqliteStore(path)
	if err != nil {
		return nil, fmt.Errorf("gorm store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ report.Sink          = (*GormStore)(nil)
	_ backfill.JobRecorder = (*GormStore)(nil)
	_ store.Store          = (*sqlite.SqliteStore)(nil)
)

// ReportSummary 是报告列表中的一行。
type ReportSummary struct {
	RunID       string    `json:"run_id"`
	Strategy    string    `json:"strategy"`
	InitialCash float64   `json:"initial_cash"`
	FinalEquity float64   `json:"final_equity"`
	MaxDrawdown float64   `json:"max_drawdown"`
	WinRate     float64   `json:"win_rate"`
	Orders      int       `json:"orders"`
	Positions   int       `json:"positions"`
	Steps       int       `json:"steps"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveReport 在同一事务中写入报告汇总与权益曲线，同一 run_id 重复保存时覆盖。
func (s *GormStore) SaveReport(ctx context.Context, r *report.BacktestReport) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	summary := *r
	summary.Curve = nil
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row := &model.ReportModel{
		RunID:          r.RunID,
		Strategy:       r.Strategy,
		InitialCash:    r.InitialCash,
		FinalEquity:    r.Equity.Close,
		MaxDrawdown:    r.Equity.MaxDrawdown,
		WinRate:        r.WinRate,
		Orders:         r.Orders,
		Positions:      r.Positions,
		Steps:          r.Window.Steps,
		WindowFromUnix: unixMilli(r.Window.From),
		WindowToUnix:   unixMilli(r.Window.To),
		Summary:        datatypes.JSON(raw),
		CreatedAtUnix:  created.UnixMilli(),
	}
	points := make([]model.EquityPointModel, 0, len(r.Curve))
	for i, p := range r.Curve {
		points = append(points, model.EquityPointModel{Seq: i, Timestamp: p.Time.UnixMilli(), Equity: p.Equity})
	}

	uow, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Reports().Save(ctx, row); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("save report %s: %w", r.RunID, err)
	}
	if err := uow.Reports().ReplaceEquity(ctx, r.RunID, points); err != nil {
		_ = uow.Rollback()
		return fmt.Errorf("save equity %s: %w", r.RunID, err)
	}
	return uow.Commit()
}

// GetReport 读取完整报告（含权益曲线）。
func (s *GormStore) GetReport(ctx context.Context, runID string) (*report.BacktestReport, error) {
	repo := s.db.Reports()
	row, err := repo.FindByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("report %s: %w", runID, ErrNotFound)
	}
	var out report.BacktestReport
	if err := json.Unmarshal(row.Summary, &out); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	points, err := repo.ListEquity(ctx, runID)
	if err != nil {
		return nil, err
	}
	out.Curve = make([]report.EquityPoint, 0, len(points))
	for _, p := range points {
		out.Curve = append(out.Curve, report.EquityPoint{Time: time.UnixMilli(p.Timestamp).UTC(), Equity: p.Equity})
	}
	return &out, nil
}

// ListReports 按创建时间倒序返回报告摘要。
func (s *GormStore) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	rows, err := s.db.Reports().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ReportSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReportSummary{
			RunID:       r.RunID,
			Strategy:    r.Strategy,
			InitialCash: r.InitialCash,
			FinalEquity: r.FinalEquity,
			MaxDrawdown: r.MaxDrawdown,
			WinRate:     r.WinRate,
			Orders:      r.Orders,
			Positions:   r.Positions,
			Steps:       r.Steps,
			From:        fromUnixMilli(r.WindowFromUnix),
			To:          fromUnixMilli(r.WindowToUnix),
			CreatedAt:   fromUnixMilli(r.CreatedAtUnix),
		})
	}
	return out, nil
}

// SaveJob 保存回填任务快照。
func (s *GormStore) SaveJob(ctx context.Context, job backfill.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return s.db.Jobs().Save(ctx, &model.BackfillJobModel{
		ID:            job.ID,
		Chart:         job.Params.Chart,
		Source:        job.Params.Source,
		Status:        job.Status,
		FromUnix:      unixMilli(job.Params.From),
		ToUnix:        unixMilli(job.Params.To),
		Rows:          job.Rows,
		Message:       job.Message,
		Payload:       datatypes.JSON(raw),
		StartedAtUnix: unixMilli(job.StartedAt),
		UpdatedAtUnix: unixMilli(job.UpdatedAt),
	})
}

func (s *GormStore) GetJob(ctx context.Context, id string) (backfill.Job, error) {
	row, err := s.db.Jobs().FindByID(ctx, id)
	if err != nil {
		return backfill.Job{}, err
	}
	if row == nil {
		return backfill.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return decodeJob(*row)
}

// ListJobs 按提交时间倒序返回历史任务。
func (s *GormStore) ListJobs(ctx context.Context, limit int) ([]backfill.Job, error) {
	rows, err := s.db.Jobs().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]backfill.Job, 0, len(rows))
	for _, r := range rows {
		job, err := decodeJob(r)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func decodeJob(row model.BackfillJobModel) (backfill.Job, error) {
	var job backfill.Job
	if err := json.Unmarshal(row.Payload, &job); err != nil {
		return backfill.Job{}, fmt.Errorf("decode job %s: %w", row.ID, err)
	}
	return job, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
