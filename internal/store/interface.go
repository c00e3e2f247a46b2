package store

import (
	"context"

	"tickforge/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Reports returns the report repository within this transaction.
	Reports() ReportRepository
	// Jobs returns the backfill job repository within this transaction.
	Jobs() JobRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// ReportRepository handles backtest report persistence.
type ReportRepository interface {
	Save(ctx context.Context, report *model.ReportModel) error
	ReplaceEquity(ctx context.Context, runID string, points []model.EquityPointModel) error
	FindByRunID(ctx context.Context, runID string) (*model.ReportModel, error)
	ListEquity(ctx context.Context, runID string) ([]model.EquityPointModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.ReportModel, error)
}

// JobRepository handles backfill job persistence.
type JobRepository interface {
	Save(ctx context.Context, job *model.BackfillJobModel) error
	FindByID(ctx context.Context, id string) (*model.BackfillJobModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.BackfillJobModel, error)
}
