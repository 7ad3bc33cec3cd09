package scheduler

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/eventlog"
	"github.com/fiscaldata/reconciler_backend/internal/testdb"
	"github.com/fiscaldata/reconciler_backend/jobs"
	"github.com/fiscaldata/reconciler_backend/models"
)

func TestPlanTransition(t *testing.T) {
	automatic := PlanTransition(models.SchedulerModeAutomatic)
	require.True(t, automatic.InstallReconcileCron)
	require.True(t, automatic.InstallResyncTicker)
	require.True(t, automatic.FireResyncNow)
	require.False(t, automatic.FireReconcileNow)

	manual := PlanTransition(models.SchedulerModeManual)
	require.False(t, manual.InstallReconcileCron)
	// The resync trigger is independent of reconciliation mode and still
	// installs in MANUAL.
	require.True(t, manual.InstallResyncTicker)
	require.False(t, manual.FireResyncNow)
	require.True(t, manual.FireReconcileNow)

	paused := PlanTransition(models.SchedulerModePaused)
	require.Equal(t, Plan{}, paused)
}

func TestValidateExpression(t *testing.T) {
	require.NoError(t, ValidateExpression("0 * * * *"))
	require.NoError(t, ValidateExpression("@hourly"))
	require.Error(t, ValidateExpression("not a schedule"))
	require.Error(t, ValidateExpression("99 99 * * *"))
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testdb.Open(t)
	logger := logrus.New()
	log := eventlog.NewLog(db, logger)
	t.Cleanup(log.Stop)

	s := New(db, logger, log)
	s.ResyncInterval = time.Hour // only the activation fire matters here
	t.Cleanup(s.Stop)
	return s, db
}

func countJobs(t *testing.T, db *gorm.DB, jobType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Job{}).Where("type = ?", jobType).Count(&n).Error)
	return n
}

func TestReconfigure_PausedToAutomaticFiresImmediateResync(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.Reconfigure(models.SchedulerModePaused, "0 * * * *")
	require.NoError(t, err)
	require.EqualValues(t, 0, countJobs(t, db, jobs.TypeErpResync))

	_, err = s.Reconfigure(models.SchedulerModeAutomatic, "0 * * * *")
	require.NoError(t, err)

	// The resync fires at activation, not at the first tick.
	require.Eventually(t, func() bool {
		return countJobs(t, db, jobs.TypeErpResync) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Cron trigger + resync ticker.
	require.Equal(t, 2, s.InstalledTriggers())
}

func TestReconfigure_SameModeNeverDuplicatesTriggers(t *testing.T) {
	s, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := s.Reconfigure(models.SchedulerModeAutomatic, "*/5 * * * *")
		require.NoError(t, err)
	}
	_, err := s.Reconfigure(models.SchedulerModeAutomatic, "*/10 * * * *")
	require.NoError(t, err)

	require.Equal(t, 2, s.InstalledTriggers())
}

func TestReconfigure_ManualFiresOneReconciliation(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.Reconfigure(models.SchedulerModeManual, "0 * * * *")
	require.NoError(t, err)

	require.EqualValues(t, 1, countJobs(t, db, jobs.TypeReconciliation))
	// No cron trigger in MANUAL; the resync ticker still installs.
	require.Equal(t, 1, s.InstalledTriggers())

	// Later reconciliations only happen on explicit request.
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, countJobs(t, db, jobs.TypeReconciliation))
}

func TestReconfigure_PausedTearsEverythingDown(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Reconfigure(models.SchedulerModeAutomatic, "0 * * * *")
	require.NoError(t, err)
	require.Equal(t, 2, s.InstalledTriggers())

	_, err = s.Reconfigure(models.SchedulerModePaused, "0 * * * *")
	require.NoError(t, err)
	require.Equal(t, 0, s.InstalledTriggers())
}

func TestReconfigure_RejectsInvalidInput(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.Reconfigure(models.SchedulerMode("SOMETIMES"), "0 * * * *")
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = s.Reconfigure(models.SchedulerModeAutomatic, "broken")
	require.ErrorIs(t, err, ErrInvalidExpression)

	// Rejected input never touches the persisted intent.
	state, err := models.LoadSchedulerState(db)
	require.NoError(t, err)
	require.Equal(t, models.SchedulerModePaused, state.Mode)
}

func TestRestore_ManualDoesNotFireReconciliation(t *testing.T) {
	s, db := newTestService(t)

	// The one-shot reconciliation fired when the operator entered MANUAL in
	// a previous process life; a restart only reinstates triggers.
	_, err := models.SaveSchedulerState(db, models.SchedulerModeManual, "0 * * * *")
	require.NoError(t, err)

	require.NoError(t, s.Restore())

	require.EqualValues(t, 0, countJobs(t, db, jobs.TypeReconciliation))
	// The resync ticker still installs in MANUAL.
	require.Equal(t, 1, s.InstalledTriggers())
}

func TestRestore_AutomaticStillFiresResync(t *testing.T) {
	s, db := newTestService(t)

	_, err := models.SaveSchedulerState(db, models.SchedulerModeAutomatic, "0 * * * *")
	require.NoError(t, err)

	require.NoError(t, s.Restore())

	require.Eventually(t, func() bool {
		return countJobs(t, db, jobs.TypeErpResync) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 0, countJobs(t, db, jobs.TypeReconciliation))
	require.Equal(t, 2, s.InstalledTriggers())
}

func TestReconfigure_PersistsIntent(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.Reconfigure(models.SchedulerModeAutomatic, "*/15 * * * *")
	require.NoError(t, err)

	state, err := models.LoadSchedulerState(db)
	require.NoError(t, err)
	require.Equal(t, models.SchedulerModeAutomatic, state.Mode)
	require.Equal(t, "*/15 * * * *", state.TriggerExpression)
	require.NotNil(t, state.LastAppliedAt)
}
