// Package events publishes activity lifecycle events for diagnostics and
// downstream auditing. Publishing is best-effort; the log itself never
// depends on delivery.
package events

import "time"

// Event types carried in the event_type message header.
const (
	TypeEntryRecorded     = "entry.recorded"
	TypeSleepCompleted    = "entry.sleep_completed"
	TypeEntryDeleted      = "entry.deleted"
	TypeRemoteWriteFailed = "entry.remote_write_failed"
)

// EntryRecorded is emitted after an optimistic local apply of a new entry.
type EntryRecorded struct {
	EntryID    string    `json:"entry_id"`
	AccountID  string    `json:"account_id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SleepCompleted is emitted when an in-progress sleep session is closed.
type SleepCompleted struct {
	EntryID     string    `json:"entry_id"`
	AccountID   string    `json:"account_id"`
	DurationMin int       `json:"duration_min"`
	CompletedAt time.Time `json:"completed_at"`
}

// EntryDeleted is emitted after an optimistic local removal.
type EntryDeleted struct {
	EntryID   string    `json:"entry_id"`
	AccountID string    `json:"account_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// RemoteWriteFailed records a remote write that was logged and abandoned.
type RemoteWriteFailed struct {
	Op         string    `json:"op"`
	EntryID    string    `json:"entry_id"`
	AccountID  string    `json:"account_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
