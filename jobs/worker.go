package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/eventlog"
	"github.com/fiscaldata/reconciler_backend/models"
	"github.com/fiscaldata/reconciler_backend/workflow"
)

// Handler executes one job and returns its result payload.
type Handler func(ctx context.Context, db *gorm.DB, logger *logrus.Logger, payload []byte) (interface{}, error)

// Worker consumes exactly one job type with a concurrency ceiling of 1:
// jobs of a type run strictly sequentially, which is what lets the matching
// engine assume no concurrent writer on the same rows. Claiming is done
// with a row lock (SKIP LOCKED on MySQL); the Redis lock around execution
// is a best-effort extra, never the authority.
type Worker struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Log     *eventlog.Log
	JobType string
	Handler Handler

	WorkerID        string
	PollInterval    time.Duration
	LockTimeout     time.Duration
	FailedRetention time.Duration
	purgeEvery      int
	sincePurge      int
}

func NewWorker(db *gorm.DB, logger *logrus.Logger, log *eventlog.Log, jobType string, handler Handler) *Worker {
	return &Worker{
		DB:              db,
		Logger:          logger,
		Log:             log,
		JobType:         jobType,
		Handler:         handler,
		WorkerID:        uuid.NewString(),
		PollInterval:    500 * time.Millisecond,
		LockTimeout:     30 * time.Minute,
		FailedRetention: 72 * time.Hour,
		purgeEvery:      120,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		processed := w.processOnce(ctx)
		w.maybePurge()
		if processed {
			// Drain the queue without sleeping between jobs.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.PollInterval):
		}
	}
}

// claim takes the oldest eligible WAITING job of this type and marks it
// ACTIVE within one transaction.
func (w *Worker) claim(ctx context.Context) (*models.Job, error) {
	now := time.Now().UTC()
	var claimed *models.Job

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("type = ? AND state = ?", w.JobType, models.JobStateWaiting).
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Order("id ASC").
			Limit(1)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.Job
		if err := q.Take(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		started := job.StartedAt
		if started == nil {
			started = &now
		}
		updates := map[string]interface{}{
			"state":         models.JobStateActive,
			"attempts_made": gorm.Expr("attempts_made + 1"),
			"started_at":    started,
			"locked_at":     &now,
			"locked_by":     &w.WorkerID,
		}
		if err := tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		job.State = models.JobStateActive
		job.AttemptsMade++
		job.StartedAt = started
		claimed = &job
		return nil
	})
	return claimed, err
}

func (w *Worker) processOnce(ctx context.Context) bool {
	job, err := w.claim(ctx)
	if err != nil {
		config.LogError(w.Logger, "worker.go", "processOnce", "claiming job", w.JobType, err)
		return false
	}
	if job == nil {
		return false
	}

	w.mirror(job, models.LogLevelInfo,
		fmt.Sprintf("job active (attempt %d/%d)", job.AttemptsMade, job.Attempts), nil)

	// Best-effort single-flight lock. If Redis is unavailable the row claim
	// above already serialized us; just proceed.
	if locker := config.GetRedisLock(); locker != nil {
		lock, lerr := locker.Obtain(ctx, "jobs:"+w.JobType, w.LockTimeout, nil)
		if lerr == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		} else if !errors.Is(lerr, redislock.ErrNotObtained) {
			config.LogError(w.Logger, "worker.go", "processOnce", "obtaining redis lock", w.JobType, lerr)
		}
	}

	result, err := w.Handler(ctx, w.DB, w.Logger, job.Payload)
	if err != nil {
		w.handleFailure(job, err)
		return true
	}
	w.handleSuccess(job, result)
	return true
}

func (w *Worker) handleSuccess(job *models.Job, result interface{}) {
	now := time.Now().UTC()
	var raw []byte
	if result != nil {
		raw, _ = json.Marshal(result)
	}
	err := w.DB.Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"state":         models.JobStateCompleted,
		"progress":      100,
		"result":        raw,
		"failed_reason": nil,
		"finished_at":   &now,
		"locked_at":     nil,
		"locked_by":     nil,
	}).Error
	if err != nil {
		config.LogError(w.Logger, "worker.go", "handleSuccess", "marking job completed", job.PublicId, err)
	}

	duration := now.Sub(*job.StartedAt).Seconds()
	w.mirror(job, models.LogLevelInfo, "job completed", &duration)
}

func (w *Worker) handleFailure(job *models.Job, jobErr error) {
	now := time.Now().UTC()
	reason := jobErr.Error()

	if job.AttemptsMade < job.Attempts {
		delay := workflow.Backoff(job.AttemptsMade,
			time.Duration(job.BaseBackoffMillis)*time.Millisecond,
			time.Duration(job.MaxBackoffMillis)*time.Millisecond)
		next := now.Add(delay)
		err := w.DB.Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"state":           models.JobStateWaiting,
			"failed_reason":   &reason,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
		if err != nil {
			config.LogError(w.Logger, "worker.go", "handleFailure", "re-queueing job", job.PublicId, err)
		}
		w.mirror(job, models.LogLevelWarn,
			fmt.Sprintf("job failed (attempt %d/%d), retrying in %s: %s", job.AttemptsMade, job.Attempts, delay, reason), nil)
		return
	}

	err := w.DB.Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"state":         models.JobStateFailed,
		"failed_reason": &reason,
		"finished_at":   &now,
		"locked_at":     nil,
		"locked_by":     nil,
	}).Error
	if err != nil {
		config.LogError(w.Logger, "worker.go", "handleFailure", "marking job failed", job.PublicId, err)
	}

	duration := now.Sub(*job.StartedAt).Seconds()
	w.mirror(job, models.LogLevelError,
		fmt.Sprintf("job failed terminally after %d attempts: %s", job.AttemptsMade, reason), &duration)
}

// mirror writes one job transition into the durable event log. Terminal
// transitions carry the elapsed duration.
func (w *Worker) mirror(job *models.Job, level models.LogLevel, message string, duration *float64) {
	if w.Log == nil {
		return
	}
	_, err := w.Log.Append(models.LogEntry{
		JobId:           job.PublicId,
		ProcessName:     job.Type,
		Level:           level,
		Message:         message,
		DurationSeconds: duration,
	})
	if err != nil {
		config.LogError(w.Logger, "worker.go", "mirror", "appending event log entry", job.PublicId, err)
	}
}

func (w *Worker) maybePurge() {
	w.sincePurge++
	if w.sincePurge < w.purgeEvery {
		return
	}
	w.sincePurge = 0
	if _, err := PurgeExpiredFailed(w.DB, w.FailedRetention); err != nil {
		config.LogError(w.Logger, "worker.go", "maybePurge", "purging expired failed jobs", w.JobType, err)
	}
}
