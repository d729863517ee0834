package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/nestlog/internal/domain"
)

func TestDecodeFeedRecord(t *testing.T) {
	amount := 120
	rec := Record{
		ID:        "row-1",
		Event:     EventFeedFormula,
		Value:     &amount,
		StartedAt: time.Date(2025, time.June, 1, 9, 15, 0, 0, time.Local),
	}

	entry, ok := Decode(rec)
	require.True(t, ok)
	require.Equal(t, domain.TypeFeed, entry.Type)
	require.Equal(t, domain.SubtypeFormula, entry.Subtype)
	require.NotNil(t, entry.AmountML)
	require.Equal(t, 120, *entry.AmountML)
	require.Equal(t, "09:15", entry.DisplayTime)
}

func TestDecodeOpenSleepIsNotVisible(t *testing.T) {
	rec := Record{
		ID:        "row-2",
		Event:     EventSleep,
		StartedAt: time.Date(2025, time.June, 1, 21, 0, 0, 0, time.Local),
	}
	require.True(t, rec.OpenSleep())

	_, ok := Decode(rec)
	require.False(t, ok)
}

func TestDecodeUnknownEventSkipped(t *testing.T) {
	_, ok := Decode(Record{Event: "bath", StartedAt: time.Now()})
	require.False(t, ok)
}

func TestSessionRoundTrip(t *testing.T) {
	start := time.Date(2025, time.June, 1, 22, 0, 0, 0, time.Local)
	entry := domain.ActivityEntry{
		ID:            "row-3",
		Type:          domain.TypeSleep,
		Subtype:       domain.SubtypeSession,
		OccurredAt:    start,
		DisplayTime:   "22:00",
		SleepStart:    "22:00",
		SleepEnd:      "06:30",
		SleepDuration: "8h 30m",
	}

	rec, err := Encode(entry)
	require.NoError(t, err)
	require.Equal(t, EventSleep, rec.Event)
	require.NotNil(t, rec.DurationMin)
	require.Equal(t, 510, *rec.DurationMin)

	decoded, ok := Decode(rec)
	require.True(t, ok)
	require.Equal(t, entry.SleepStart, decoded.SleepStart)
	require.Equal(t, entry.SleepEnd, decoded.SleepEnd)
	require.Equal(t, entry.SleepDuration, decoded.SleepDuration)
}

func TestEncodeSleepWithoutDurationOpensSession(t *testing.T) {
	rec, err := Encode(domain.ActivityEntry{
		Type:       domain.TypeSleep,
		Subtype:    domain.SubtypeStart,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, EventSleep, rec.Event)
	require.Nil(t, rec.DurationMin)
}

func TestEncodeDiaper(t *testing.T) {
	rec, err := Encode(domain.ActivityEntry{
		Type:       domain.TypeDiaper,
		Subtype:    domain.SubtypePee,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, EventPee, rec.Event)
	require.Nil(t, rec.Value)
	require.Nil(t, rec.Unit)
}

func TestEncodeUpdateFeedClearsSleepFields(t *testing.T) {
	amount := 90
	patch, err := EncodeUpdate(domain.ActivityEntry{
		ID:         "row-4",
		Type:       domain.TypeFeed,
		Subtype:    domain.SubtypeBreast,
		OccurredAt: time.Now(),
		AmountML:   &amount,
	})
	require.NoError(t, err)
	require.Equal(t, EventFeedBreast, patch["event"])
	require.Equal(t, 90, patch["value"])
	require.Equal(t, "ml", patch["unit"])

	// duration_min must be present as an explicit null.
	v, present := patch["duration_min"]
	require.True(t, present)
	require.Nil(t, v)
}

func TestEncodeUpdateOmitsMalformedDuration(t *testing.T) {
	patch, err := EncodeUpdate(domain.ActivityEntry{
		ID:            "row-5",
		Type:          domain.TypeSleep,
		Subtype:       domain.SubtypeSession,
		OccurredAt:    time.Now(),
		SleepDuration: "not a duration",
	})
	require.NoError(t, err)
	_, present := patch["duration_min"]
	require.False(t, present)
}

func TestDecodeLegacyWakeRow(t *testing.T) {
	entry, ok := Decode(Record{Event: EventWake, StartedAt: time.Now()})
	require.True(t, ok)
	require.Equal(t, domain.TypeSleep, entry.Type)
	require.Equal(t, domain.SubtypeEnd, entry.Subtype)
}
