package workflow

import (
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/models"
)

// RetryConfig is the per-job retry budget. It is loaded from the parameters
// table when a job is enqueued, not cached, so a tuned budget applies to the
// next run without a restart.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
}

func LoadRetryConfig(db *gorm.DB) RetryConfig {
	cfg := DefaultRetryConfig()
	if n, err := models.GetIntParameter(db, models.ParamRetryAttempts); err == nil && n > 0 {
		cfg.MaxAttempts = n
	}
	if n, err := models.GetIntParameter(db, models.ParamRetryBaseBackoffSec); err == nil && n > 0 {
		cfg.BaseBackoff = time.Duration(n) * time.Second
	}
	if n, err := models.GetIntParameter(db, models.ParamRetryMaxBackoffSec); err == nil && n > 0 {
		cfg.MaxBackoff = time.Duration(n) * time.Second
	}
	return cfg
}

// Backoff returns the delay before re-queueing a job that has already made
// attemptsMade attempts: min(2^attemptsMade * base, ceiling).
func Backoff(attemptsMade int, base, ceiling time.Duration) time.Duration {
	if attemptsMade < 0 {
		attemptsMade = 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attemptsMade)))
	if ceiling > 0 && (delay > ceiling || delay <= 0) {
		return ceiling
	}
	return delay
}
