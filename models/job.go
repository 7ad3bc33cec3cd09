package models

import (
	"time"
)

// Job is one durable queue entry. Each job type is its own FIFO queue with
// exactly one consuming worker, so reconciliation never runs concurrently
// against the same rows. The auto-increment id is the queue order; PublicId
// is what callers see and poll with.
type Job struct {
	ID       uint     `gorm:"primary_key" json:"id"`
	PublicId string   `gorm:"uniqueIndex;size:36;not null" json:"public_id"`
	Type     string   `gorm:"index:idx_job_type_state,priority:1;size:50;not null" json:"type"`
	State    JobState `gorm:"index:idx_job_type_state,priority:2;size:20;not null;default:WAITING" json:"state"`
	Payload  []byte   `gorm:"type:json" json:"payload"`
	Progress int      `gorm:"not null;default:0" json:"progress"`
	Result   []byte   `gorm:"type:json" json:"result"`

	// Retry bookkeeping. Attempts is the budget; AttemptsMade counts
	// executions that have started.
	Attempts          int        `gorm:"not null;default:1" json:"attempts"`
	AttemptsMade      int        `gorm:"not null;default:0" json:"attempts_made"`
	BaseBackoffMillis int64      `gorm:"not null;default:0" json:"base_backoff_millis"`
	MaxBackoffMillis  int64      `gorm:"not null;default:0" json:"max_backoff_millis"`
	NextAttemptAt     *time.Time `gorm:"index" json:"next_attempt_at"`
	FailedReason      *string    `gorm:"type:text" json:"failed_reason"`

	LockedAt *time.Time `json:"locked_at"`
	LockedBy *string    `gorm:"size:36" json:"locked_by"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (j *Job) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}
