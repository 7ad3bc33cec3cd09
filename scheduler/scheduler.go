package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/eventlog"
	"github.com/fiscaldata/reconciler_backend/jobs"
	"github.com/fiscaldata/reconciler_backend/models"
)

var (
	ErrInvalidMode       = errors.New("invalid scheduler mode")
	ErrInvalidExpression = errors.New("invalid trigger expression")
)

// Plan is the pure outcome of a mode transition: which triggers the new
// mode wants installed and which jobs fire immediately. Computing the plan
// is separated from executing it so the transition logic stays testable
// without cron or a queue.
type Plan struct {
	InstallReconcileCron bool
	InstallResyncTicker  bool
	FireResyncNow        bool
	FireReconcileNow     bool
}

// PlanTransition maps the target mode to its trigger set. Reconfiguration
// always tears everything down first, so the plan only describes the new
// mode:
//
//   - AUTOMATIC: cron reconciliation trigger + resync ticker; the resync
//     fires immediately so interval counting starts at activation.
//   - MANUAL: one immediate reconciliation, then only on operator request;
//     the resync ticker still installs (independent of reconciliation mode).
//   - PAUSED: nothing.
func PlanTransition(mode models.SchedulerMode) Plan {
	switch mode {
	case models.SchedulerModeAutomatic:
		return Plan{
			InstallReconcileCron: true,
			InstallResyncTicker:  true,
			FireResyncNow:        true,
		}
	case models.SchedulerModeManual:
		return Plan{
			InstallResyncTicker: true,
			FireReconcileNow:    true,
		}
	default:
		return Plan{}
	}
}

// ValidateExpression accepts standard 5-field cron syntax plus the
// @every/@hourly descriptors.
func ValidateExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return nil
}

// Service owns the process-wide scheduling state and the installed
// triggers. All state it mutates is injected; there is exactly one instance
// per process, so concurrent reconfigurations reduce to a last-writer-wins
// race over the singleton row, which is a documented limitation.
type Service struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Log    *eventlog.Log

	ResyncInterval time.Duration

	mu           sync.Mutex
	cron         *cron.Cron
	cronEntry    cron.EntryID
	cronActive   bool
	resyncCancel context.CancelFunc
	resyncDone   chan struct{}
}

func New(db *gorm.DB, logger *logrus.Logger, log *eventlog.Log) *Service {
	c := cron.New()
	c.Start()
	return &Service{
		DB:             db,
		Logger:         logger,
		Log:            log,
		ResyncInterval: time.Duration(config.IntFromEnv("RESYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		cron:           c,
	}
}

// Restore re-applies the persisted intent on boot. It reinstates the
// mode's triggers but not its entry side effects: the one immediate
// reconciliation belongs to entering MANUAL, which happened in a previous
// process life. The immediate resync stays, since interval counting starts
// over with the fresh ticker.
func (s *Service) Restore() error {
	state, err := models.LoadSchedulerState(s.DB)
	if err != nil {
		return err
	}
	plan := PlanTransition(state.Mode)
	plan.FireReconcileNow = false
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.installLocked(plan, state.TriggerExpression)
	return nil
}

// Reconfigure validates, persists the new intent, then swaps the installed
// triggers. The state update is synchronous and authoritative; trigger
// installation errors are logged and never fail the reconfiguration, so
// the operator always keeps control of the intent.
func (s *Service) Reconfigure(mode models.SchedulerMode, triggerExpression string) (*models.SchedulerState, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if triggerExpression == "" {
		triggerExpression = models.DefaultTriggerExpression
	}
	if err := ValidateExpression(triggerExpression); err != nil {
		return nil, err
	}

	state, err := models.SaveSchedulerState(s.DB, mode, triggerExpression)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Full teardown before install: repeated reconfiguration must never
	// accumulate duplicate triggers.
	s.teardownLocked()
	s.installLocked(PlanTransition(mode), triggerExpression)

	s.audit(models.LogLevelInfo, fmt.Sprintf("scheduler reconfigured: mode=%s expression=%q", mode, triggerExpression))
	return state, nil
}

// Stop tears down all triggers and halts the cron runner.
func (s *Service) Stop() {
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
	s.cron.Stop()
}

// InstalledTriggers reports how many periodic triggers are currently
// installed: cron entries plus the resync ticker.
func (s *Service) InstalledTriggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.cron.Entries())
	if s.resyncCancel != nil {
		n++
	}
	return n
}

// teardownLocked removes whatever is installed. Idempotent: tearing down an
// absent trigger is a no-op.
func (s *Service) teardownLocked() {
	if s.cronActive {
		s.cron.Remove(s.cronEntry)
		s.cronActive = false
	}
	if s.resyncCancel != nil {
		s.resyncCancel()
		<-s.resyncDone
		s.resyncCancel = nil
		s.resyncDone = nil
	}
}

func (s *Service) installLocked(plan Plan, triggerExpression string) {
	if plan.InstallReconcileCron {
		entry, err := s.cron.AddFunc(triggerExpression, s.enqueueReconciliation)
		if err != nil {
			// Never propagated: the persisted intent wins, the mechanism
			// failure is only logged.
			config.LogError(s.Logger, "scheduler.go", "installLocked", "installing cron trigger", triggerExpression, err)
		} else {
			s.cronEntry = entry
			s.cronActive = true
		}
	}

	if plan.InstallResyncTicker {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.resyncCancel = cancel
		s.resyncDone = done
		go s.resyncLoop(ctx, done, plan.FireResyncNow)
	}

	if plan.FireReconcileNow {
		s.enqueueReconciliation()
	}
}

func (s *Service) enqueueReconciliation() {
	jobId, _, err := jobs.EnqueueReconciliation(s.DB, nil)
	if err != nil {
		config.LogError(s.Logger, "scheduler.go", "enqueueReconciliation", "enqueueing scheduled job", nil, err)
		s.audit(models.LogLevelError, fmt.Sprintf("failed to enqueue scheduled reconciliation: %v", err))
		return
	}
	s.audit(models.LogLevelInfo, fmt.Sprintf("scheduled reconciliation enqueued: job=%s", jobId))
}

func (s *Service) enqueueResync() {
	jobId, err := jobs.Enqueue(s.DB, jobs.TypeErpResync, nil, jobs.Options{Attempts: 1})
	if err != nil {
		config.LogError(s.Logger, "scheduler.go", "enqueueResync", "enqueueing resync job", nil, err)
		s.audit(models.LogLevelError, fmt.Sprintf("failed to enqueue resynchronization: %v", err))
		return
	}
	s.audit(models.LogLevelInfo, fmt.Sprintf("full resynchronization enqueued: job=%s", jobId))
}

// resyncLoop is the companion fixed-interval trigger for the full upstream
// resynchronization. Its interval is independent of the reconciliation
// schedule; when fireNow is set the first resync goes out at activation so
// interval counting starts there.
func (s *Service) resyncLoop(ctx context.Context, done chan struct{}, fireNow bool) {
	defer close(done)

	if fireNow {
		s.enqueueResync()
	}
	ticker := time.NewTicker(s.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueResync()
		}
	}
}

func (s *Service) audit(level models.LogLevel, message string) {
	if s.Log == nil {
		return
	}
	_, err := s.Log.Append(models.LogEntry{
		ProcessName: "scheduler",
		Level:       level,
		Message:     message,
	})
	if err != nil {
		config.LogError(s.Logger, "scheduler.go", "audit", "appending event log entry", nil, err)
	}
}
