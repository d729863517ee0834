// Package codec maps between the flat remote record shape and the local
// semantic ActivityEntry shape.
package codec

import (
	"fmt"
	"time"

	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/timeutil"
)

// Remote event vocabulary.
const (
	EventFeedFormula = "feed_formula"
	EventFeedBreast  = "feed_breast"
	EventPee         = "pee"
	EventPoop        = "poop"
	EventSleep       = "sleep"
	// EventWake appears in historical rows written by older clients.
	EventWake = "wake"
)

// Record is the wire shape stored by the remote entries service. Value,
// Unit, and DurationMin are nullable on the wire; a sleep row with a null
// DurationMin is an unfinished session.
type Record struct {
	ID          string    `json:"id,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Event       string    `json:"event"`
	Value       *int      `json:"value"`
	Unit        *string   `json:"unit"`
	StartedAt   time.Time `json:"started_at"`
	DurationMin *int      `json:"duration_min"`
	Notes       *string   `json:"notes"`
}

// Patch is a partial record for updates. Keys present with nil values are
// sent as explicit nulls, which is how a feed edit clears stale sleep fields.
type Patch map[string]any

// OpenSleep reports whether the record is a started-but-unfinished sleep
// session. Such records map to the in-progress marker, never to a visible
// entry.
func (r Record) OpenSleep() bool {
	return r.Event == EventSleep && r.DurationMin == nil
}

// Decode converts a remote record to a local entry. The second return value
// is false for records with no visible local representation (open sleep
// sessions, unknown events).
func Decode(rec Record) (domain.ActivityEntry, bool) {
	occurredAt := rec.StartedAt.Local()
	entry := domain.ActivityEntry{
		ID:          rec.ID,
		OccurredAt:  occurredAt,
		DisplayTime: timeutil.FormatHM(occurredAt),
	}

	switch rec.Event {
	case EventFeedFormula:
		entry.Type, entry.Subtype = domain.TypeFeed, domain.SubtypeFormula
		entry.AmountML = rec.Value
	case EventFeedBreast:
		entry.Type, entry.Subtype = domain.TypeFeed, domain.SubtypeBreast
		entry.AmountML = rec.Value
	case EventPee:
		entry.Type, entry.Subtype = domain.TypeDiaper, domain.SubtypePee
	case EventPoop:
		entry.Type, entry.Subtype = domain.TypeDiaper, domain.SubtypePoo
	case EventSleep:
		if rec.DurationMin == nil {
			return domain.ActivityEntry{}, false
		}
		minutes := *rec.DurationMin
		end := occurredAt.Add(time.Duration(minutes) * time.Minute)
		entry.Type, entry.Subtype = domain.TypeSleep, domain.SubtypeSession
		entry.SleepStart = timeutil.FormatHM(occurredAt)
		entry.SleepEnd = timeutil.FormatHM(end)
		entry.SleepDuration = timeutil.FormatDurationMinutes(minutes)
	case EventWake:
		entry.Type, entry.Subtype = domain.TypeSleep, domain.SubtypeEnd
	default:
		return domain.ActivityEntry{}, false
	}

	return entry, true
}

// Encode converts a local entry to the record shape for a remote create. A
// sleep entry without a duration label encodes DurationMin as null, which
// opens (or re-opens) the session; callers own that asymmetry.
func Encode(entry domain.ActivityEntry) (Record, error) {
	rec := Record{
		ID:        entry.ID,
		StartedAt: entry.OccurredAt,
	}

	switch entry.Type {
	case domain.TypeFeed:
		rec.Event = EventFeedBreast
		if entry.Subtype == domain.SubtypeFormula {
			rec.Event = EventFeedFormula
		}
		if entry.AmountML != nil {
			rec.Value = intPtr(*entry.AmountML)
			rec.Unit = strPtr("ml")
		}
	case domain.TypeDiaper:
		rec.Event = EventPoop
		if entry.Subtype == domain.SubtypePee {
			rec.Event = EventPee
		}
	case domain.TypeSleep:
		rec.Event = EventSleep
		if minutes, ok := timeutil.ParseDurationLabel(entry.SleepDuration); ok {
			rec.DurationMin = intPtr(minutes)
		}
	default:
		return Record{}, fmt.Errorf("unknown entry type %q", entry.Type)
	}

	return rec, nil
}

// EncodeUpdate builds the partial record for a remote update. Feed and
// diaper edits explicitly null out value/unit/duration so an entry edited
// across types cannot keep stale sleep fields. A sleep entry whose duration
// label fails to parse omits duration_min rather than failing the update.
func EncodeUpdate(entry domain.ActivityEntry) (Patch, error) {
	patch := Patch{"started_at": entry.OccurredAt}

	switch entry.Type {
	case domain.TypeFeed:
		event := EventFeedBreast
		if entry.Subtype == domain.SubtypeFormula {
			event = EventFeedFormula
		}
		patch["event"] = event
		if entry.AmountML != nil {
			patch["value"] = *entry.AmountML
			patch["unit"] = "ml"
		} else {
			patch["value"] = nil
			patch["unit"] = nil
		}
		patch["duration_min"] = nil
	case domain.TypeDiaper:
		event := EventPoop
		if entry.Subtype == domain.SubtypePee {
			event = EventPee
		}
		patch["event"] = event
		patch["value"] = nil
		patch["unit"] = nil
		patch["duration_min"] = nil
	case domain.TypeSleep:
		patch["event"] = EventSleep
		if minutes, ok := timeutil.ParseDurationLabel(entry.SleepDuration); ok {
			patch["duration_min"] = minutes
		}
	default:
		return nil, fmt.Errorf("unknown entry type %q", entry.Type)
	}

	return patch, nil
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
