// Package domain defines the canonical activity log model shared by the
// reconciliation core and its transports.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrNotSignedIn indicates no remote identity is available; remote
	// operations are skipped and the agent runs local-only.
	ErrNotSignedIn = errors.New("no signed-in identity")
	// ErrInvalidTimeRange is returned when a sleep session would end before it started.
	ErrInvalidTimeRange = errors.New("sleep end precedes sleep start")
	// ErrMalformedDuration indicates a duration label that does not match "<H>h <M>m".
	ErrMalformedDuration = errors.New("malformed duration label")
	// ErrNoOpenSession indicates a sleep completion with no session in progress.
	ErrNoOpenSession = errors.New("no sleep session in progress")
)

// ActivityType classifies a logged event.
type ActivityType string

const (
	TypeFeed   ActivityType = "feed"
	TypeDiaper ActivityType = "diaper"
	TypeSleep  ActivityType = "sleep"
)

// Subtypes carried per activity type.
const (
	SubtypeFormula = "formula"
	SubtypeBreast  = "breast"
	SubtypePee     = "pee"
	SubtypePoo     = "poo"
	SubtypeStart   = "start"
	SubtypeSession = "session"
	SubtypeEnd     = "end"
)

// ActivityEntry is a single logged event. The ID is locally generated until
// the remote write confirms a durable identifier; a reconciliation fetch
// replaces it.
type ActivityEntry struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	Subtype     string       `json:"subtype"`
	OccurredAt  time.Time    `json:"occurred_at"`
	DisplayTime string       `json:"display_time"`
	AmountML    *int         `json:"amount_ml,omitempty"`

	// Sleep session fields. SleepDuration is always recomputed from
	// SleepStart/SleepEnd, never stored independently stale.
	SleepStart    string `json:"sleep_start,omitempty"`
	SleepEnd      string `json:"sleep_end,omitempty"`
	SleepDuration string `json:"sleep_duration,omitempty"`
}

// DayBucket groups the entries attributed to one local calendar date.
// Entries are ordered most-recent-first by OccurredAt; buckets themselves
// are kept most-recent-day-first.
type DayBucket struct {
	DateKey string          `json:"date"`
	Entries []ActivityEntry `json:"entries"`
}

// SleepMarker represents a sleep session that has started but not yet
// ended. It exists only between a confirmed sleep-start write and the
// matching completion; a started-but-unfinished sleep never appears in the
// day buckets.
type SleepMarker struct {
	StartedAt time.Time `json:"started_at"`
	RemoteID  string    `json:"remote_id"`
}
