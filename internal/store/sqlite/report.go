package sqlite

import (
	"context"
	"errors"
	"strings"

	"tickforge/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reportRepository implements the ReportRepository interface.
type reportRepository struct {
	db *gorm.DB
}

func NewReportRepo(db *gorm.DB) *reportRepository {
	return &reportRepository{db: db}
}

// Save 按 run_id upsert 报告汇总。
func (r *reportRepository) Save(ctx context.Context, report *model.ReportModel) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if strings.TrimSpace(report.RunID) == "" {
		return errors.New("report run_id is required")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"strategy", "initial_cash", "final_equity", "max_drawdown", "win_rate",
			"orders", "positions", "steps", "window_from", "window_to", "summary", "created_at",
		}),
	}).Create(report).Error
}

// ReplaceEquity 删除旧曲线后批量写入新曲线。
func (r *reportRepository) ReplaceEquity(ctx context.Context, runID string, points []model.EquityPointModel) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("run_id = ?", runID).Delete(&model.EquityPointModel{}).Error; err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	for i := range points {
		points[i].RunID = runID
	}
	return db.CreateInBatches(points, 500).Error
}

// FindByRunID 未找到时返回 nil, nil。
func (r *reportRepository) FindByRunID(ctx context.Context, runID string) (*model.ReportModel, error) {
	var out model.ReportModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *reportRepository) ListEquity(ctx context.Context, runID string) ([]model.EquityPointModel, error) {
	var out []model.EquityPointModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecent lists recent reports, newest first.
func (r *reportRepository) ListRecent(ctx context.Context, limit int) ([]model.ReportModel, error) {
	var out []model.ReportModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Omit("summary").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
