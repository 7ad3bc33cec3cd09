package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Run is one execution of the reconciliation pipeline, scheduled or manual.
// It scopes a batch of staged documents and their results; never deleted.
type Run struct {
	ID                 uint            `gorm:"primary_key" json:"id"`
	Status             RunStatus       `gorm:"index;size:20;not null;default:PENDING" json:"status"`
	DocumentsProcessed int             `gorm:"not null;default:0" json:"documents_processed"`
	ToleranceApplied   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tolerance_applied"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         *time.Time      `json:"finished_at"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateRun(db *gorm.DB, tolerance decimal.Decimal) (*Run, error) {
	run := Run{
		Status:           RunStatusPending,
		ToleranceApplied: tolerance,
		StartedAt:        time.Now().UTC(),
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func GetRun(db *gorm.DB, runId uint) (*Run, error) {
	var run Run
	if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun marks a run terminal and stamps finished_at.
func FinishRun(db *gorm.DB, runId uint, status RunStatus) error {
	now := time.Now().UTC()
	return db.Model(&Run{}).Where("id = ?", runId).Updates(map[string]interface{}{
		"status":      status,
		"finished_at": &now,
	}).Error
}

// IncrementRunDocumentsProcessed bumps the counter atomically; it is called
// inside the per-group transaction so a failed group never counts.
func IncrementRunDocumentsProcessed(tx *gorm.DB, runId uint, delta int) error {
	return tx.Model(&Run{}).Where("id = ?", runId).
		Update("documents_processed", gorm.Expr("documents_processed + ?", delta)).Error
}
