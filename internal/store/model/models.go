package model

import (
	"gorm.io/datatypes"
)

// ReportModel 是一次回测的汇总行，完整报告（不含权益曲线）以 JSON 保存在 Summary。
type ReportModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex"`
	Strategy       string         `gorm:"column:strategy;index"`
	InitialCash    float64        `gorm:"column:initial_cash"`
	FinalEquity    float64        `gorm:"column:final_equity"`
	MaxDrawdown    float64        `gorm:"column:max_drawdown"`
	WinRate        float64        `gorm:"column:win_rate"`
	Orders         int            `gorm:"column:orders"`
	Positions      int            `gorm:"column:positions"`
	Steps          int            `gorm:"column:steps"`
	WindowFromUnix int64          `gorm:"column:window_from"`
	WindowToUnix   int64          `gorm:"column:window_to"`
	Summary        datatypes.JSON `gorm:"column:summary;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
}

func (ReportModel) TableName() string { return "backtest_reports" }

// EquityPointModel 是权益曲线的一个采样点。
type EquityPointModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	RunID     string  `gorm:"column:run_id;uniqueIndex:idx_report_equity,priority:1"`
	Seq       int     `gorm:"column:seq;uniqueIndex:idx_report_equity,priority:2"`
	Timestamp int64   `gorm:"column:ts"`
	Equity    float64 `gorm:"column:equity"`
}

func (EquityPointModel) TableName() string { return "report_equity" }
