package sqlite

import (
	"context"
	"errors"

	"tickforge/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *jobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Save(ctx context.Context, job *model.BackfillJobModel) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(job).Error
}

func (r *jobRepository) FindByID(ctx context.Context, id string) (*model.BackfillJobModel, error) {
	var out model.BackfillJobModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *jobRepository) ListRecent(ctx context.Context, limit int) ([]model.BackfillJobModel, error) {
	var out []model.BackfillJobModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
