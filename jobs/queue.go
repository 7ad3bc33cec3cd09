package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/models"
)

// Job type names. Each type is its own FIFO queue with one worker.
const (
	TypeReconciliation = "reconciliation"
	TypeNoMatchSweep   = "no-match-sweep"
	TypeErpResync      = "erp-resync"
)

// Options carries the retry budget a job is enqueued with.
type Options struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

var ErrJobNotWaiting = errors.New("job is not in WAITING state")

// Enqueue appends one job to its type's queue and returns the job id.
func Enqueue(db *gorm.DB, jobType string, payload interface{}, opts Options) (string, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshaling job payload: %w", err)
		}
	}
	job := models.Job{
		PublicId:          uuid.NewString(),
		Type:              jobType,
		State:             models.JobStateWaiting,
		Payload:           raw,
		Attempts:          opts.Attempts,
		BaseBackoffMillis: opts.BaseBackoff.Milliseconds(),
		MaxBackoffMillis:  opts.MaxBackoff.Milliseconds(),
	}
	if err := db.Create(&job).Error; err != nil {
		return "", err
	}
	return job.PublicId, nil
}

// GetJob returns one job by its public id for status inspection.
func GetJob(db *gorm.DB, jobId string) (*models.Job, error) {
	var job models.Job
	if err := db.Where("public_id = ?", jobId).Take(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// RemoveWaiting removes a queued job. A job that has gone ACTIVE cannot be
// cancelled; only WAITING jobs are removable.
func RemoveWaiting(db *gorm.DB, jobId string) error {
	res := db.Where("public_id = ? AND state = ?", jobId, models.JobStateWaiting).Delete(&models.Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotWaiting
	}
	return nil
}

// PurgeExpiredFailed removes terminal FAILED jobs older than the retention
// window. They are kept around for inspection first.
func PurgeExpiredFailed(db *gorm.DB, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	res := db.Where("state = ? AND finished_at IS NOT NULL AND finished_at < ?",
		models.JobStateFailed, cutoff).Delete(&models.Job{})
	return res.RowsAffected, res.Error
}
