package model

import "gorm.io/datatypes"

// BackfillJobModel 保存回填任务的最终状态，分段明细在 Payload。
type BackfillJobModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Chart         string         `gorm:"column:chart;index"`
	Source        string         `gorm:"column:source"`
	Status        string         `gorm:"column:status"`
	FromUnix      int64          `gorm:"column:from_ts"`
	ToUnix        int64          `gorm:"column:to_ts"`
	Rows          int            `gorm:"column:rows"`
	Message       string         `gorm:"column:message"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	StartedAtUnix int64          `gorm:"column:started_at;index"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (BackfillJobModel) TableName() string { return "backfill_jobs" }
