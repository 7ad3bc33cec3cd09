package models

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Parameter is a runtime tunable. Values are read fresh at the start of
// each run, never cached across runs, so operators can adjust behavior
// without restarting the pipeline.
type Parameter struct {
	Key       string    `gorm:"primary_key;size:100" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	ParamToleranceThreshold  = "reconciliation.tolerance_threshold"
	ParamRetryAttempts       = "jobs.retry_attempts"
	ParamRetryBaseBackoffSec = "jobs.retry_base_backoff_seconds"
	ParamRetryMaxBackoffSec  = "jobs.retry_max_backoff_seconds"
	ParamFailedJobRetention  = "jobs.failed_retention_hours"
	ParamLogMaxEntries       = "eventlog.max_entries"
	ParamLogMaxAgeHours      = "eventlog.max_age_hours"
)

// DefaultParameters are seeded by cmd/seed-params and used as fallbacks
// when a key is missing.
var DefaultParameters = map[string]string{
	ParamToleranceThreshold:  "10.00",
	ParamRetryAttempts:       "3",
	ParamRetryBaseBackoffSec: "5",
	ParamRetryMaxBackoffSec:  "600",
	ParamFailedJobRetention:  "72",
	ParamLogMaxEntries:       "100000",
	ParamLogMaxAgeHours:      "720",
}

func GetParameter(db *gorm.DB, key string) (string, error) {
	var p Parameter
	err := db.Where("`key` = ?", key).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if def, ok := DefaultParameters[key]; ok {
			return def, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return p.Value, nil
}

func GetDecimalParameter(db *gorm.DB, key string) (decimal.Decimal, error) {
	raw, err := GetParameter(db, key)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func GetIntParameter(db *gorm.DB, key string) (int, error) {
	raw, err := GetParameter(db, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func SetParameter(db *gorm.DB, key, value string) error {
	p := Parameter{Key: key, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&p).Error
}
