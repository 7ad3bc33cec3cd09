package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/models"
)

type runPayload struct {
	RunId *uint `json:"run_id,omitempty"`
}

// RunResult is what a reconciliation job reports back through the queue.
type RunResult struct {
	RunId   uint    `json:"run_id"`
	Summary Summary `json:"summary"`
}

// RunReconciliationJob is the queue handler for reconciliation jobs. It
// owns the Run lifecycle: creates one when the payload does not name one,
// marks it PROCESSED on success and FAILED when the engine errors.
func RunReconciliationJob(ctx context.Context, db *gorm.DB, logger *logrus.Logger, payload []byte) (interface{}, error) {
	_ = ctx

	var req runPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}

	tolerance, err := models.GetDecimalParameter(db, models.ParamToleranceThreshold)
	if err != nil {
		return nil, fmt.Errorf("loading tolerance: %w", err)
	}

	var run *models.Run
	if req.RunId != nil {
		run, err = models.GetRun(db, *req.RunId)
	} else {
		run, err = models.CreateRun(db, tolerance)
		if err == nil {
			// A fresh run adopts every pending document not yet owned by one,
			// so attribution and the processed counter land on this run.
			err = db.Model(&models.StagedDocument{}).
				Where("status = ? AND run_id IS NULL", models.DocumentStatusPending).
				Update("run_id", run.ID).Error
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolving run: %w", err)
	}

	runId := run.ID
	summary, err := Reconcile(db, logger, req.RunId)
	if err != nil {
		_ = models.FinishRun(db, runId, models.RunStatusFailed)
		return nil, err
	}

	if err := models.FinishRun(db, runId, models.RunStatusProcessed); err != nil {
		return nil, err
	}
	return RunResult{RunId: runId, Summary: summary}, nil
}

// RunNoMatchSweepJob is the queue handler for the explicit no-match sweep.
// A successful sweep moves the touched run to FINISHED.
func RunNoMatchSweepJob(ctx context.Context, db *gorm.DB, logger *logrus.Logger, payload []byte) (interface{}, error) {
	_ = ctx

	var req runPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}

	summary, err := SweepNoMatch(db, logger, req.RunId)
	if err != nil {
		if req.RunId != nil {
			_ = models.FinishRun(db, *req.RunId, models.RunStatusFailed)
		}
		return nil, err
	}
	if req.RunId != nil {
		if err := models.FinishRun(db, *req.RunId, models.RunStatusFinished); err != nil {
			return nil, err
		}
	}
	return summary, nil
}
