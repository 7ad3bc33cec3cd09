package eventlog

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

// Entry ids are time-derived: unix milliseconds shifted left, with the low
// bits as a sequence for entries appended within the same millisecond. Ids
// are strictly monotonic, so timestamp range queries translate into id
// bounds and retention trimming is a prefix delete.
const entryIdSeqBits = 20

// Log is the durable, append-only event log. Appends are O(1): the insert
// commits, live subscribers are notified without blocking, and rotation is
// kicked asynchronously so it never delays the caller.
type Log struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	idMu   sync.Mutex
	lastId int64

	fanout   *broadcaster
	rotateCh chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewLog(db *gorm.DB, logger *logrus.Logger) *Log {
	l := &Log{
		DB:       db,
		Logger:   logger,
		fanout:   newBroadcaster(),
		rotateCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go l.rotateLoop()
	return l
}

// Stop terminates the rotation loop. Pending appends are unaffected.
func (l *Log) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Log) nextEntryId(ts time.Time) int64 {
	candidate := ts.UnixMilli() << entryIdSeqBits
	l.idMu.Lock()
	defer l.idMu.Unlock()
	if candidate <= l.lastId {
		candidate = l.lastId + 1
	}
	l.lastId = candidate
	return candidate
}

// Append persists one entry and returns its assigned id.
func (l *Log) Append(entry models.LogEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}
	entry.EntryId = l.nextEntryId(entry.Timestamp)

	if err := l.DB.Create(&entry).Error; err != nil {
		return 0, err
	}

	l.fanout.publish(entry)

	// Kick rotation without waiting for it; a kick already in flight covers
	// this append too.
	select {
	case l.rotateCh <- struct{}{}:
	default:
	}
	return entry.EntryId, nil
}

// Filter narrows queries and subscriptions.
type Filter struct {
	JobId       string
	Levels      []models.LogLevel
	FromTs      *time.Time
	ToTs        *time.Time
	DurationMin *float64
	DurationMax *float64
}

func (f Filter) matches(entry models.LogEntry) bool {
	if f.JobId != "" && entry.JobId != f.JobId {
		return false
	}
	if len(f.Levels) > 0 {
		ok := false
		for _, lvl := range f.Levels {
			if entry.Level == lvl {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.DurationMin != nil && (entry.DurationSeconds == nil || *entry.DurationSeconds < *f.DurationMin) {
		return false
	}
	if f.DurationMax != nil && (entry.DurationSeconds == nil || *entry.DurationSeconds > *f.DurationMax) {
		return false
	}
	return true
}

// idBounds converts the requested timestamp window into entry-id bounds.
func (f Filter) idBounds() (int64, int64) {
	lower := int64(0)
	upper := int64(1)<<62 - 1
	if f.FromTs != nil {
		lower = f.FromTs.UnixMilli() << entryIdSeqBits
	}
	if f.ToTs != nil {
		upper = (f.ToTs.UnixMilli()+1)<<entryIdSeqBits - 1
	}
	return lower, upper
}

// QueryRange reads the ordered store by id bounds derived from the
// requested timestamps (parameterized predicates only), applies the
// remaining filters in memory, and truncates to limit. Newest first.
func (l *Log) QueryRange(filter Filter, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	lower, upper := filter.idBounds()

	var rows []models.LogEntry
	if err := l.DB.
		Where("entry_id >= ? AND entry_id <= ?", lower, upper).
		Order("entry_id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.LogEntry, 0, limit)
	for _, row := range rows {
		if !filter.matches(row) {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Subscription is one live observer of the log.
type Subscription struct {
	C      <-chan models.LogEntry
	id     int
	fanout *broadcaster
	once   sync.Once
}

// Close detaches the subscriber and closes C. Safe to call more than once;
// the read loop on the other side observes the closed channel and stops.
func (s *Subscription) Close() {
	s.once.Do(func() { s.fanout.unsubscribe(s.id) })
}

// Subscribe starts live delivery from "now". Entries that fail the filter
// are dropped before they reach the channel. Callers that want the initial
// historical burst combine this with QueryRange, subscribing first so no
// entry falls between the two.
func (l *Log) Subscribe(filter Filter) *Subscription {
	id, raw := l.fanout.subscribe()
	filtered := make(chan models.LogEntry, subscriberBuffer)
	go func() {
		defer close(filtered)
		for entry := range raw {
			if !filter.matches(entry) {
				continue
			}
			select {
			case filtered <- entry:
			default:
			}
		}
	}()
	return &Subscription{C: filtered, id: id, fanout: l.fanout}
}

func (l *Log) rotateLoop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.rotateCh:
			if err := l.rotateOnce(); err != nil {
				config.LogError(l.Logger, "log.go", "rotateLoop", "trimming event log", nil, err)
			}
		}
	}
}

// rotateOnce trims to the configured maximum count and age. Both policies
// delete a strict prefix of the id space, so surviving entries never have a
// gap among them.
func (l *Log) rotateOnce() error {
	maxEntries, err := models.GetIntParameter(l.DB, models.ParamLogMaxEntries)
	if err != nil {
		maxEntries = 0
	}
	maxAgeHours, err := models.GetIntParameter(l.DB, models.ParamLogMaxAgeHours)
	if err != nil {
		maxAgeHours = 0
	}

	if maxEntries > 0 {
		var boundary models.LogEntry
		err := l.DB.Order("entry_id DESC").Offset(maxEntries - 1).Limit(1).Take(&boundary).Error
		if err == nil {
			if derr := l.DB.Where("entry_id < ?", boundary.EntryId).Delete(&models.LogEntry{}).Error; derr != nil {
				return derr
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	if maxAgeHours > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(maxAgeHours) * time.Hour).UnixMilli() << entryIdSeqBits
		if derr := l.DB.Where("entry_id < ?", cutoff).Delete(&models.LogEntry{}).Error; derr != nil {
			return derr
		}
	}
	return nil
}
