package jobs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
	"github.com/fiscaldata/reconciler_backend/workflow"
)

type startReconciliationRequest struct {
	RunId *uint `json:"runId"`
}

type startReconciliationResponse struct {
	JobId      string `json:"jobId"`
	MaxRetries int    `json:"maxRetries"`
}

// ReconciliationJobPayload is the queue payload shared by the
// reconciliation and no-match-sweep job types.
type ReconciliationJobPayload struct {
	RunId *uint `json:"run_id,omitempty"`
}

// EnqueueReconciliation creates one reconciliation job with the retry
// budget currently configured in the parameters table.
func EnqueueReconciliation(db *gorm.DB, runId *uint) (string, workflow.RetryConfig, error) {
	cfg := workflow.LoadRetryConfig(db)
	jobId, err := Enqueue(db, TypeReconciliation, ReconciliationJobPayload{RunId: runId}, Options{
		Attempts:    cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	})
	return jobId, cfg, err
}

// StartReconciliationHandler serves POST /reconciliation/start.
func StartReconciliationHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startReconciliationRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		jobId, cfg, err := EnqueueReconciliation(db, req.RunId)
		if err != nil {
			config.LogError(logger, "handlers.go", "StartReconciliationHandler", "enqueueing job", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not enqueue reconciliation"})
			return
		}
		c.JSON(http.StatusCreated, startReconciliationResponse{
			JobId:      jobId,
			MaxRetries: cfg.MaxAttempts,
		})
	}
}

type jobStatusResponse struct {
	State        models.JobState `json:"state"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason *string         `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
}

// JobStatusHandler serves GET /reconciliation/status/:jobId.
func JobStatusHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobId := c.Param("jobId")
		job, err := GetJob(db, jobId)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			config.LogError(logger, "handlers.go", "JobStatusHandler", "loading job", jobId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load job"})
			return
		}
		c.JSON(http.StatusOK, jobStatusResponse{
			State:        job.State,
			Progress:     job.Progress,
			Result:       job.Result,
			FailedReason: job.FailedReason,
			AttemptsMade: job.AttemptsMade,
		})
	}
}

// CancelJobHandler serves DELETE /reconciliation/jobs/:jobId. Only WAITING
// jobs can be removed; an ACTIVE job is never pre-empted.
func CancelJobHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobId := c.Param("jobId")
		err := RemoveWaiting(db, jobId)
		if errors.Is(err, ErrJobNotWaiting) {
			c.JSON(http.StatusConflict, gin.H{"error": "only waiting jobs can be removed"})
			return
		}
		if err != nil {
			config.LogError(logger, "handlers.go", "CancelJobHandler", "removing job", jobId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove job"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// NoMatchSweepHandler serves POST /reconciliation/no-match-sweep: the
// explicit operator trigger for classifying still-one-sided groups.
func NoMatchSweepHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startReconciliationRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		cfg := workflow.LoadRetryConfig(db)
		jobId, err := Enqueue(db, TypeNoMatchSweep, ReconciliationJobPayload{RunId: req.RunId}, Options{
			Attempts:    cfg.MaxAttempts,
			BaseBackoff: cfg.BaseBackoff,
			MaxBackoff:  cfg.MaxBackoff,
		})
		if err != nil {
			config.LogError(logger, "handlers.go", "NoMatchSweepHandler", "enqueueing sweep", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not enqueue sweep"})
			return
		}
		c.JSON(http.StatusCreated, startReconciliationResponse{JobId: jobId, MaxRetries: cfg.MaxAttempts})
	}
}
