package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/codec"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/store"
)

func writerClaims() *auth.Claims {
	return &auth.Claims{
		Subject:   "tester",
		AccountID: "acct-1",
		Scopes: map[string]struct{}{
			auth.ScopeEntriesWrite: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func readerClaims() *auth.Claims {
	return &auth.Claims{
		Subject:   "tester",
		AccountID: "acct-1",
		Scopes: map[string]struct{}{
			auth.ScopeEntriesRead: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	s := store.New(&fakeGateway{}, &fakeScratch{}, "acct-1",
		store.WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(func() {
		s.Close()
		s.Wait()
	})
	return NewHandler(s), s
}

func TestRecordActivityAccepted(t *testing.T) {
	handler, s := newTestHandler(t)

	body, _ := json.Marshal(RecordActivityRequest{
		Type:     "feed",
		Subtype:  "formula",
		Time:     "09:15",
		AmountML: intPtr(120),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/log/activities", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp MutationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "accepted" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if resp.Entry == nil || resp.Entry.DisplayTime != "09:15" {
		t.Fatalf("expected optimistic entry at 09:15, got %+v", resp.Entry)
	}

	s.Wait()
	days, _ := s.Snapshot()
	if len(days) != 1 || len(days[0].Entries) != 1 {
		t.Fatalf("expected one entry in one bucket, got %+v", days)
	}
}

func TestRecordActivityRejectsUnknownSubtype(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := []byte(`{"type":"feed","subtype":"bottle"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/log/activities", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestRecordActivityRequiresWriteScope(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := []byte(`{"type":"diaper","subtype":"pee"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/log/activities", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), readerClaims()))

	rr := httptest.NewRecorder()
	handler.activities(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestSnapshotReadable(t *testing.T) {
	handler, s := newTestHandler(t)

	if _, _, err := s.RecordActivity(store.Intent{Type: domain.TypeDiaper, Subtype: domain.SubtypePee}); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Wait()

	req := httptest.NewRequest(http.MethodGet, "/v1/log", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readerClaims()))

	rr := httptest.NewRecorder()
	handler.snapshot(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp SnapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Days) != 1 {
		t.Fatalf("expected one day bucket, got %d", len(resp.Days))
	}
	if resp.SleepInProgress != nil {
		t.Fatalf("expected no open session, got %+v", resp.SleepInProgress)
	}
}

func TestCompleteSleepWithoutSession(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/log/sleep/complete", bytes.NewReader([]byte(`{}`)))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.completeSleep(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp MutationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "no_session" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}

func TestCompleteSleepRoundTrip(t *testing.T) {
	handler, s := newTestHandler(t)

	if _, _, err := s.RecordActivity(store.Intent{Type: domain.TypeSleep, Subtype: domain.SubtypeStart, Time: "01:00"}); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	s.Wait()

	req := httptest.NewRequest(http.MethodPost, "/v1/log/sleep/complete", bytes.NewReader([]byte(`{"end_time":"03:30"}`)))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.completeSleep(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp MutationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Entry == nil || resp.Entry.SleepDuration != "2h 30m" {
		t.Fatalf("unexpected session entry %+v", resp.Entry)
	}
}

func TestCompleteSleepRejectsBadTime(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/log/sleep/complete", bytes.NewReader([]byte(`{"end_time":"25:99"}`)))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.completeSleep(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestDeleteActivityAccepted(t *testing.T) {
	handler, s := newTestHandler(t)

	entry, _, err := s.RecordActivity(store.Intent{Type: domain.TypeDiaper, Subtype: domain.SubtypePoo})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Wait()

	req := httptest.NewRequest(http.MethodDelete, "/v1/log/activities/"+entry.ID, nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestActivityByIDRequiresID(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/log/activities/", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func intPtr(v int) *int { return &v }

// fakeGateway is an in-memory remote good enough for handler tests.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	records []codec.Record
}

func (g *fakeGateway) ListEntries(ctx context.Context) ([]codec.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]codec.Record, len(g.records))
	copy(out, g.records)
	return out, nil
}

func (g *fakeGateway) CreateEntry(ctx context.Context, rec codec.Record) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	rec.ID = fmt.Sprintf("remote-%d", g.nextID)
	g.records = append([]codec.Record{rec}, g.records...)
	return rec.ID, nil
}

func (g *fakeGateway) UpdateEntry(ctx context.Context, id string, patch codec.Patch) error {
	return nil
}

func (g *fakeGateway) DeleteEntry(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, rec := range g.records {
		if rec.ID == id {
			g.records = append(g.records[:i], g.records[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGateway) FindOpenSleep(ctx context.Context) (*codec.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range g.records {
		if rec.OpenSleep() {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

type fakeScratch struct {
	mu     sync.Mutex
	marker *domain.SleepMarker
}

func (s *fakeScratch) SleepMarker() (*domain.SleepMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *fakeScratch) PutSleepMarker(m domain.SleepMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = &m
	return nil
}

func (s *fakeScratch) ClearSleepMarker() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = nil
	return nil
}
