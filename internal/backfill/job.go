package backfill

import (
	"time"

	"tickforge/internal/interval"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// Params 描述一次回填：把 Source 上 Chart 在 [From, To] 内的数据写入目标仓库。
type Params struct {
	Chart     string            `json:"chart"`
	Source    string            `json:"source"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Increment interval.Interval `json:"increment"`
	// Clean 为 true 时先删除目标集合，仅在显式要求时使用。
	Clean bool `json:"clean"`
}

// Increment 是一个按日历对齐的子区间及其处理结果。
type Increment struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Status   string    `json:"status"`
	Rows     int       `json:"rows"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Job 是回填任务的状态快照。
type Job struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Params     Params      `json:"params"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Rows       int         `json:"rows"`
	Message    string      `json:"message,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Increments []Increment `json:"increments"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

func (j *Job) copy() Job {
	out := *j
	out.Warnings = append([]string(nil), j.Warnings...)
	out.Increments = append([]Increment(nil), j.Increments...)
	if j.FinishedAt != nil {
		ts := *j.FinishedAt
		out.FinishedAt = &ts
	}
	return out
}

// Terminal 表示任务已结束。
func (j Job) Terminal() bool {
	switch j.Status {
	case JobStatusDone, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}
