package models

import "time"

// LogEntry is one append-only audit record. EntryId is assigned by the
// event log: monotonically increasing and roughly time-ordered, so range
// queries by timestamp translate directly into id bounds. Entries are
// immutable; retention trimming removes only a prefix of the id space.
type LogEntry struct {
	EntryId         int64     `gorm:"primary_key;autoIncrement:false" json:"entry_id"`
	JobId           string    `gorm:"index;size:36" json:"job_id"`
	ProcessName     string    `gorm:"size:100;not null" json:"process_name"`
	Level           LogLevel  `gorm:"size:10;not null" json:"level"`
	Message         string    `gorm:"type:text" json:"message"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Timestamp       time.Time `gorm:"index;not null" json:"timestamp"`
}
