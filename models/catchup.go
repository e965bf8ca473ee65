package models

import "time"

// Catch-up job statuses.
const (
	CatchupRunning = "running"
	CatchupDone    = "done"
	CatchupFailed  = "failed"
)

// CatchupJob is one bounded-date-range backfill against the platform.
// Jobs live in the registry table rather than a process-global so that the
// single-flight guard and progress reporting survive DB round trips.
type CatchupJob struct {
	ID         string     `json:"id" gorm:"primaryKey;type:uuid"`
	Status     string     `json:"status" gorm:"not null;default:'running';index"`
	Progress   float64    `json:"progress" gorm:"default:0"`
	BeginAt    time.Time  `json:"begin_at" gorm:"not null"`
	EndAt      time.Time  `json:"end_at" gorm:"not null"`
	Kinds      string     `json:"kinds" gorm:"not null"` // comma-separated model kinds
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	Timestamps
}

func (CatchupJob) TableName() string {
	return "catchup_jobs"
}
