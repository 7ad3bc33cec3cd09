package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SchedulerState is a process-wide singleton row: the operator's scheduling
// intent. The row is always saved, even when trigger installation misbehaves,
// so the intent survives restarts.
type SchedulerState struct {
	ID                uint          `gorm:"primary_key" json:"id"`
	Mode              SchedulerMode `gorm:"size:20;not null" json:"mode"`
	TriggerExpression string        `gorm:"size:100;not null" json:"trigger_expression"`
	LastAppliedAt     *time.Time    `json:"last_applied_at"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

const schedulerStateRowId = 1

const DefaultTriggerExpression = "0 * * * *"

// LoadSchedulerState returns the singleton row, creating the PAUSED default
// on first use.
func LoadSchedulerState(db *gorm.DB) (*SchedulerState, error) {
	var state SchedulerState
	err := db.Where("id = ?", schedulerStateRowId).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = SchedulerState{
			ID:                schedulerStateRowId,
			Mode:              SchedulerModePaused,
			TriggerExpression: DefaultTriggerExpression,
		}
		if cerr := db.Create(&state).Error; cerr != nil {
			return nil, cerr
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSchedulerState persists the new intent. Concurrent reconfigurations
// are a last-writer-wins race over this single row.
func SaveSchedulerState(db *gorm.DB, mode SchedulerMode, triggerExpression string) (*SchedulerState, error) {
	now := time.Now().UTC()
	state := SchedulerState{
		ID:                schedulerStateRowId,
		Mode:              mode,
		TriggerExpression: triggerExpression,
		LastAppliedAt:     &now,
	}
	if err := db.Save(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}
