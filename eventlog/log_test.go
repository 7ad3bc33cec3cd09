package eventlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fiscaldata/reconciler_backend/internal/testdb"
	"github.com/fiscaldata/reconciler_backend/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db := testdb.Open(t)
	log := NewLog(db, logrus.New())
	t.Cleanup(log.Stop)
	return log
}

func TestAppend_IdsAreStrictlyMonotonic(t *testing.T) {
	log := newTestLog(t)

	var last int64
	for i := 0; i < 50; i++ {
		id, err := log.Append(models.LogEntry{ProcessName: "test", Message: fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
		require.Greater(t, id, last, "entry ids must strictly increase")
		last = id
	}
}

func TestQueryRange_LimitNewestFirst(t *testing.T) {
	log := newTestLog(t)

	ids := make([]int64, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := log.Append(models.LogEntry{ProcessName: "test", Message: fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := log.QueryRange(Filter{}, 4)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, entry := range entries {
		require.Equal(t, ids[len(ids)-1-i], entry.EntryId, "expected newest-first order")
	}
}

func TestQueryRange_Filters(t *testing.T) {
	log := newTestLog(t)

	slow := 12.5
	_, err := log.Append(models.LogEntry{JobId: "job-a", ProcessName: "reconciliation", Level: models.LogLevelError, Message: "boom"})
	require.NoError(t, err)
	_, err = log.Append(models.LogEntry{JobId: "job-b", ProcessName: "reconciliation", Level: models.LogLevelInfo, Message: "done", DurationSeconds: &slow})
	require.NoError(t, err)
	_, err = log.Append(models.LogEntry{JobId: "job-a", ProcessName: "reconciliation", Level: models.LogLevelInfo, Message: "retry"})
	require.NoError(t, err)

	byJob, err := log.QueryRange(Filter{JobId: "job-a"}, 10)
	require.NoError(t, err)
	require.Len(t, byJob, 2)

	byLevel, err := log.QueryRange(Filter{Levels: []models.LogLevel{models.LogLevelError}}, 10)
	require.NoError(t, err)
	require.Len(t, byLevel, 1)
	require.Equal(t, "boom", byLevel[0].Message)

	minDur := 10.0
	byDuration, err := log.QueryRange(Filter{DurationMin: &minDur}, 10)
	require.NoError(t, err)
	require.Len(t, byDuration, 1)
	require.Equal(t, "done", byDuration[0].Message)
}

func TestQueryRange_TimestampBounds(t *testing.T) {
	log := newTestLog(t)

	early := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	late := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
	_, err := log.Append(models.LogEntry{ProcessName: "test", Message: "early", Timestamp: early})
	require.NoError(t, err)
	_, err = log.Append(models.LogEntry{ProcessName: "test", Message: "late", Timestamp: late})
	require.NoError(t, err)

	from := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	entries, err := log.QueryRange(Filter{FromTs: &from}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "late", entries[0].Message)

	to := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	entries, err = log.QueryRange(Filter{ToTs: &to}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "early", entries[0].Message)
}

func TestRotation_TrimsToMaxCountWithoutGaps(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, models.SetParameter(log.DB, models.ParamLogMaxEntries, "5"))

	ids := make([]int64, 0, 12)
	for i := 0; i < 12; i++ {
		id, err := log.Append(models.LogEntry{ProcessName: "test", Message: fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, log.rotateOnce())

	var survivors []models.LogEntry
	require.NoError(t, log.DB.Order("entry_id ASC").Find(&survivors).Error)
	require.Len(t, survivors, 5)

	// Survivors are exactly the newest ids: nothing newer than a retained
	// entry was deleted.
	for i, entry := range survivors {
		require.Equal(t, ids[len(ids)-5+i], entry.EntryId)
	}
}

func TestSubscribe_DeliversLiveEntries(t *testing.T) {
	log := newTestLog(t)

	sub := log.Subscribe(Filter{})
	defer sub.Close()

	id, err := log.Append(models.LogEntry{ProcessName: "test", Message: "live"})
	require.NoError(t, err)

	select {
	case entry := <-sub.C:
		require.Equal(t, id, entry.EntryId)
		require.Equal(t, "live", entry.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("expected live entry")
	}
}

func TestSubscribe_FilterDropsNonMatching(t *testing.T) {
	log := newTestLog(t)

	sub := log.Subscribe(Filter{Levels: []models.LogLevel{models.LogLevelError}})
	defer sub.Close()

	_, err := log.Append(models.LogEntry{ProcessName: "test", Level: models.LogLevelInfo, Message: "noise"})
	require.NoError(t, err)
	id, err := log.Append(models.LogEntry{ProcessName: "test", Level: models.LogLevelError, Message: "signal"})
	require.NoError(t, err)

	select {
	case entry := <-sub.C:
		require.Equal(t, id, entry.EntryId)
	case <-time.After(2 * time.Second):
		t.Fatal("expected filtered entry")
	}
}

func TestSubscribe_CloseTerminatesDelivery(t *testing.T) {
	log := newTestLog(t)

	sub := log.Subscribe(Filter{})
	require.Equal(t, 1, log.fanout.subscriberCount())

	sub.Close()
	sub.Close() // idempotent
	require.Equal(t, 0, log.fanout.subscriberCount())

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "channel must close after unsubscribe")

	// Appending after close must not block or panic.
	_, err := log.Append(models.LogEntry{ProcessName: "test", Message: "after close"})
	require.NoError(t, err)
}
