// Package store owns the canonical in-memory representation of the
// activity log: entries grouped by local calendar day plus the in-progress
// sleep marker. Mutations apply locally first and reconcile against the
// remote entries service in the background.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/nestlog/internal/codec"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/events"
	"example.com/nestlog/internal/gateway"
	"example.com/nestlog/internal/observability"
	"example.com/nestlog/internal/timeutil"
)

// markerKey serializes sleep-start writes, which have no entry id yet.
const markerKey = "sleep-start"

// Scratch is the device-local durable storage for the in-progress marker.
type Scratch interface {
	SleepMarker() (*domain.SleepMarker, error)
	PutSleepMarker(domain.SleepMarker) error
	ClearSleepMarker() error
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the diagnostic logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPublisher attaches a lifecycle event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(s *Store) { s.events = pub }
}

// WithRemoteTimeout bounds each background remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Store) { s.remoteTimeout = d }
}

// Store is the activity reconciliation core. All state is owned here and
// mutated only through its operations; a single mutex guards the bucket
// list and marker for concurrent callers.
type Store struct {
	gateway       gateway.Gateway
	scratch       Scratch
	events        events.Publisher
	logger        *log.Logger
	now           func() time.Time
	remoteTimeout time.Duration
	accountID     string

	mu       sync.Mutex
	buckets  []domain.DayBucket
	marker   *domain.SleepMarker
	inflight map[string]*Task
	closed   bool
	wg       sync.WaitGroup
}

// New constructs a Store for the given identity.
func New(gw gateway.Gateway, scratch Scratch, accountID string, opts ...Option) *Store {
	s := &Store{
		gateway:       gw,
		scratch:       scratch,
		events:        events.NopPublisher{},
		logger:        log.New(log.Writer(), "[store] ", log.LstdFlags),
		now:           time.Now,
		remoteTimeout: 15 * time.Second,
		accountID:     accountID,
		inflight:      make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intent is a partial entry as issued by the UI.
type Intent struct {
	Type     domain.ActivityType
	Subtype  string
	Time     string // optional "HH:MM"; empty means now
	AmountML *int
}

func (in Intent) validate() error {
	switch in.Type {
	case domain.TypeFeed:
		if in.Subtype != domain.SubtypeFormula && in.Subtype != domain.SubtypeBreast {
			return fmt.Errorf("invalid feed subtype %q", in.Subtype)
		}
		if in.AmountML != nil && *in.AmountML < 0 {
			return fmt.Errorf("amount must be non-negative")
		}
	case domain.TypeDiaper:
		if in.Subtype != domain.SubtypePee && in.Subtype != domain.SubtypePoo {
			return fmt.Errorf("invalid diaper subtype %q", in.Subtype)
		}
	case domain.TypeSleep:
		if in.Subtype != domain.SubtypeStart {
			return fmt.Errorf("invalid sleep subtype %q", in.Subtype)
		}
	default:
		return fmt.Errorf("invalid activity type %q", in.Type)
	}
	return nil
}

// RecordActivity applies a new entry optimistically and persists it in the
// background. For sleep starts no visible entry is created; on remote
// confirmation the in-progress marker is set instead. The returned entry is
// nil for sleep starts.
func (s *Store) RecordActivity(intent Intent) (*domain.ActivityEntry, *Task, error) {
	if err := intent.validate(); err != nil {
		return nil, nil, err
	}

	now := s.now()
	occurredAt := now
	if intent.Time != "" {
		hour, minute, err := timeutil.ParseHM(intent.Time)
		if err != nil {
			return nil, nil, err
		}
		occurredAt = timeutil.CombineDayTime(now, hour, minute)
	}

	if intent.Type == domain.TypeSleep && intent.Subtype == domain.SubtypeStart {
		return nil, s.startSleep(occurredAt), nil
	}

	entry := domain.ActivityEntry{
		ID:          "local-" + uuid.NewString(),
		Type:        intent.Type,
		Subtype:     intent.Subtype,
		OccurredAt:  occurredAt,
		DisplayTime: timeutil.FormatHM(occurredAt),
		AmountML:    intent.AmountML,
	}

	s.mu.Lock()
	s.insertLocked(entry, timeutil.DayKey(occurredAt))
	s.mu.Unlock()

	rec, err := codec.Encode(entry)
	if err != nil {
		return nil, nil, err
	}

	task := s.dispatch(entry.ID, "create", func(ctx context.Context) error {
		if _, err := s.gateway.CreateEntry(ctx, rec); err != nil {
			return err
		}
		s.publish(ctx, events.TypeEntryRecorded, events.EntryRecorded{
			EntryID:    entry.ID,
			AccountID:  s.accountID,
			Event:      rec.Event,
			OccurredAt: entry.OccurredAt,
		})
		// Replace-all so the temporary id becomes the durable one and
		// cross-device writes are absorbed.
		_ = s.Reconcile(ctx)
		return nil
	})
	return &entry, task, nil
}

// startSleep creates the open-ended remote row. The marker is only set
// once the remote create confirms; a failed start is logged and lost.
func (s *Store) startSleep(occurredAt time.Time) *Task {
	rec := codec.Record{Event: codec.EventSleep, StartedAt: occurredAt}

	return s.dispatch(markerKey, "sleep_start", func(ctx context.Context) error {
		id, err := s.gateway.CreateEntry(ctx, rec)
		if err != nil {
			return err
		}

		marker := domain.SleepMarker{StartedAt: occurredAt, RemoteID: id}
		s.mu.Lock()
		s.marker = &marker
		s.mu.Unlock()
		observability.SetSleepSessionOpen(true)

		if err := s.scratch.PutSleepMarker(marker); err != nil {
			s.logger.Printf("persist sleep marker: %v", err)
		}
		s.publish(ctx, events.TypeEntryRecorded, events.EntryRecorded{
			EntryID:    id,
			AccountID:  s.accountID,
			Event:      codec.EventSleep,
			OccurredAt: occurredAt,
		})
		return nil
	})
}

// CompleteSleepSession closes the in-progress session at endAt (or now).
// The marker and its scratch copy are cleared immediately; the remote
// update and reconciliation run in the background. An end before the start
// is rejected with ErrInvalidTimeRange and leaves the marker in place.
func (s *Store) CompleteSleepSession(endAt *time.Time) (*domain.ActivityEntry, *Task, error) {
	s.mu.Lock()
	if s.marker == nil {
		s.mu.Unlock()
		return nil, nil, domain.ErrNoOpenSession
	}
	marker := *s.marker

	end := s.now()
	if endAt != nil {
		end = *endAt
	}
	if end.Before(marker.StartedAt) {
		s.mu.Unlock()
		return nil, nil, domain.ErrInvalidTimeRange
	}
	durationMin := int(end.Sub(marker.StartedAt).Minutes())

	entry := domain.ActivityEntry{
		ID:            marker.RemoteID,
		Type:          domain.TypeSleep,
		Subtype:       domain.SubtypeSession,
		OccurredAt:    marker.StartedAt,
		DisplayTime:   timeutil.FormatHM(marker.StartedAt),
		SleepStart:    timeutil.FormatHM(marker.StartedAt),
		SleepEnd:      timeutil.FormatHM(end),
		SleepDuration: timeutil.FormatDurationMinutes(durationMin),
	}

	// The session is attributed to the day it ended on.
	s.insertLocked(entry, timeutil.DayKey(end))
	s.marker = nil
	s.mu.Unlock()

	observability.SetSleepSessionOpen(false)
	if err := s.scratch.ClearSleepMarker(); err != nil {
		s.logger.Printf("clear sleep marker: %v", err)
	}

	patch := codec.Patch{"duration_min": durationMin}
	task := s.dispatch(entry.ID, "sleep_complete", func(ctx context.Context) error {
		if err := s.gateway.UpdateEntry(ctx, entry.ID, patch); err != nil {
			return err
		}
		s.publish(ctx, events.TypeSleepCompleted, events.SleepCompleted{
			EntryID:     entry.ID,
			AccountID:   s.accountID,
			DurationMin: durationMin,
			CompletedAt: end,
		})
		_ = s.Reconcile(ctx)
		return nil
	})
	return &entry, task, nil
}

// EditActivity replaces the entry with the same id. For non-sleep entries
// the timestamp is re-derived from the edited display time; sleep sessions
// keep their start as the time identity and recompute the duration label.
// The entry moves buckets when the edited time lands on a different day.
func (s *Store) EditActivity(entry domain.ActivityEntry) (*Task, error) {
	fixed := entry

	if fixed.Type != domain.TypeSleep && fixed.DisplayTime != "" {
		hour, minute, err := timeutil.ParseHM(fixed.DisplayTime)
		if err != nil {
			return nil, err
		}
		fixed.OccurredAt = timeutil.CombineDayTime(fixed.OccurredAt, hour, minute)
		fixed.DisplayTime = timeutil.FormatHM(fixed.OccurredAt)
	}

	if fixed.Type == domain.TypeSleep && fixed.SleepStart != "" && fixed.SleepEnd != "" {
		label, err := timeutil.ComputeSleepDuration(fixed.SleepStart, fixed.SleepEnd)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDuration, err)
		}
		fixed.SleepDuration = label
		fixed.DisplayTime = fixed.SleepStart
	}

	patch, err := codec.EncodeUpdate(fixed)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.removeLocked(fixed.ID) {
		s.insertLocked(fixed, timeutil.DayKey(fixed.OccurredAt))
	}
	s.mu.Unlock()

	// Local state already reflects the edit; no reconciliation fetch.
	task := s.dispatch(fixed.ID, "update", func(ctx context.Context) error {
		return s.gateway.UpdateEntry(ctx, fixed.ID, patch)
	})
	return task, nil
}

// DeleteActivity removes the entry locally and issues a best-effort remote
// delete. The local removal is never reverted.
func (s *Store) DeleteActivity(id string) *Task {
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()

	return s.dispatch(id, "delete", func(ctx context.Context) error {
		if err := s.gateway.DeleteEntry(ctx, id); err != nil {
			return err
		}
		s.publish(ctx, events.TypeEntryDeleted, events.EntryDeleted{
			EntryID:   id,
			AccountID: s.accountID,
			DeletedAt: s.now(),
		})
		return nil
	})
}

// Snapshot returns a read-only copy of the day buckets and marker.
func (s *Store) Snapshot() ([]domain.DayBucket, *domain.SleepMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := make([]domain.DayBucket, len(s.buckets))
	for i, bucket := range s.buckets {
		entries := make([]domain.ActivityEntry, len(bucket.Entries))
		copy(entries, bucket.Entries)
		buckets[i] = domain.DayBucket{DateKey: bucket.DateKey, Entries: entries}
	}

	var marker *domain.SleepMarker
	if s.marker != nil {
		m := *s.marker
		marker = &m
	}
	return buckets, marker
}

// Reconcile discards the local day buckets and rebuilds them from a fresh
// remote listing. On failure existing local state is left untouched.
func (s *Store) Reconcile(ctx context.Context) error {
	records, err := s.gateway.ListEntries(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotSignedIn) {
			s.logger.Printf("reconcile failed: %v", err)
			observability.RecordReconcileFailure()
		}
		return err
	}

	byDay := make(map[string][]domain.ActivityEntry)
	for _, rec := range records {
		entry, ok := codec.Decode(rec)
		if !ok {
			continue
		}
		key := timeutil.DayKey(entry.OccurredAt)
		byDay[key] = append(byDay[key], entry)
	}

	buckets := make([]domain.DayBucket, 0, len(byDay))
	for key, entries := range byDay {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].OccurredAt.After(entries[j].OccurredAt)
		})
		buckets = append(buckets, domain.DayBucket{DateKey: key, Entries: entries})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].DateKey > buckets[j].DateKey
	})

	s.mu.Lock()
	s.buckets = buckets
	s.mu.Unlock()

	observability.RecordReconciled(s.now())
	return nil
}

// Close stops scheduling new remote calls. In-flight writes are not
// cancelled; use Wait to drain them.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until all background remote calls have settled.
func (s *Store) Wait() {
	s.wg.Wait()
}

// insertLocked prepends the entry into the bucket for dateKey, creating
// the bucket in day order when absent. Caller holds mu.
func (s *Store) insertLocked(entry domain.ActivityEntry, dateKey string) {
	for i := range s.buckets {
		if s.buckets[i].DateKey == dateKey {
			s.buckets[i].Entries = append([]domain.ActivityEntry{entry}, s.buckets[i].Entries...)
			return
		}
	}

	bucket := domain.DayBucket{DateKey: dateKey, Entries: []domain.ActivityEntry{entry}}
	at := len(s.buckets)
	for i := range s.buckets {
		if dateKey > s.buckets[i].DateKey {
			at = i
			break
		}
	}
	s.buckets = append(s.buckets, domain.DayBucket{})
	copy(s.buckets[at+1:], s.buckets[at:])
	s.buckets[at] = bucket
}

// removeLocked removes the entry with the given id and drops its bucket if
// that leaves it empty. Caller holds mu.
func (s *Store) removeLocked(id string) bool {
	for i := range s.buckets {
		entries := s.buckets[i].Entries
		for j := range entries {
			if entries[j].ID != id {
				continue
			}
			s.buckets[i].Entries = append(entries[:j:j], entries[j+1:]...)
			if len(s.buckets[i].Entries) == 0 {
				s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
			}
			return true
		}
	}
	return false
}

// dispatch runs fn in the background, serialized after any in-flight call
// for the same key so writes for one identifier cannot land out of order.
func (s *Store) dispatch(key, op string, fn func(context.Context) error) *Task {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return completedTask(nil)
	}
	prev := s.inflight[key]
	task := &Task{done: make(chan struct{})}
	s.inflight[key] = task
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if prev != nil {
			<-prev.done
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.remoteTimeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotSignedIn) {
				s.logger.Printf("%s skipped: %v", op, err)
			} else {
				s.logger.Printf("%s failed: %v", op, err)
				observability.RecordRemoteWriteFailure(op)
				s.publish(ctx, events.TypeRemoteWriteFailed, events.RemoteWriteFailed{
					Op:         op,
					EntryID:    key,
					AccountID:  s.accountID,
					Reason:     err.Error(),
					OccurredAt: s.now(),
				})
			}
		}

		task.err = err
		close(task.done)

		s.mu.Lock()
		if s.inflight[key] == task {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	return task
}

func (s *Store) publish(ctx context.Context, eventType string, payload any) {
	if err := s.events.Publish(ctx, s.accountID, eventType, payload); err != nil {
		s.logger.Printf("publish %s: %v", eventType, err)
	}
}
