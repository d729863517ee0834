package entries

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/codec"
)

func testClaims(scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &auth.Claims{
		Subject:   "tester",
		AccountID: "acct-1",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newHandler(repo Repository) *Handler {
	return NewHandler(repo, 200, log.New(io.Discard, "", 0))
}

func TestCreateEntryAssignsIdentity(t *testing.T) {
	repo := &mockRepo{}
	handler := newHandler(repo)

	body := []byte(`{"event":"feed_formula","value":120,"unit":"ml","started_at":"2025-06-01T09:15:00Z","duration_min":null,"notes":null}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/entries", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.collection(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var rec codec.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected server-assigned id")
	}
	if rec.AccountID != "acct-1" {
		t.Fatalf("expected record scoped to caller, got %q", rec.AccountID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one create, got %d", len(repo.created))
	}
}

func TestCreateEntryRejectsUnknownEvent(t *testing.T) {
	handler := newHandler(&mockRepo{})

	body := []byte(`{"event":"nap","started_at":"2025-06-01T09:15:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/entries", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.collection(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestListRequiresReadScope(t *testing.T) {
	handler := newHandler(&mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/v1/entries", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims()))

	rr := httptest.NewRecorder()
	handler.collection(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestListReturnsRecords(t *testing.T) {
	repo := &mockRepo{
		records: []codec.Record{
			{ID: "r1", AccountID: "acct-1", Event: codec.EventPee, StartedAt: time.Now().UTC()},
		},
	}
	handler := newHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/entries", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesRead)))

	rr := httptest.NewRecorder()
	handler.collection(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var out ListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != "r1" {
		t.Fatalf("unexpected records %+v", out.Items)
	}
}

func TestPatchNullsAreForwarded(t *testing.T) {
	repo := &mockRepo{found: true}
	handler := newHandler(repo)

	body := []byte(`{"event":"poop","value":null,"unit":null,"duration_min":null,"started_at":"2025-06-01T08:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/entries/r1", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.entryByID(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}

	fields := repo.lastPatch
	if len(fields) != 5 {
		t.Fatalf("expected 5 patched fields, got %+v", fields)
	}
	if fields["event"] != codec.EventPoop {
		t.Fatalf("unexpected event %v", fields["event"])
	}
	for _, key := range []string{"value", "unit", "duration_min"} {
		value, present := fields[key]
		if !present || value != nil {
			t.Fatalf("expected explicit null for %s, got %v (present=%v)", key, value, present)
		}
	}
}

func TestPatchRejectsUnknownField(t *testing.T) {
	handler := newHandler(&mockRepo{found: true})

	body := []byte(`{"account_id":"other"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/entries/r1", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.entryByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestPatchMissingRowIs404(t *testing.T) {
	handler := newHandler(&mockRepo{found: false})

	body := []byte(`{"duration_min":45}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/entries/ghost", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.entryByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestDeleteMissingRowIs404(t *testing.T) {
	handler := newHandler(&mockRepo{found: false})

	req := httptest.NewRequest(http.MethodDelete, "/v1/entries/ghost", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesWrite)))

	rr := httptest.NewRecorder()
	handler.entryByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestOpenSleepAbsentIs404(t *testing.T) {
	handler := newHandler(&mockRepo{})

	req := httptest.NewRequest(http.MethodGet, "/v1/entries/open-sleep", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesRead)))

	rr := httptest.NewRecorder()
	handler.openSleep(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestOpenSleepReturnsRecord(t *testing.T) {
	open := codec.Record{ID: "s1", AccountID: "acct-1", Event: codec.EventSleep, StartedAt: time.Now().UTC()}
	handler := newHandler(&mockRepo{openSleep: &open})

	req := httptest.NewRequest(http.MethodGet, "/v1/entries/open-sleep", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims(auth.ScopeEntriesRead)))

	rr := httptest.NewRecorder()
	handler.openSleep(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var rec codec.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.ID != "s1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

type mockRepo struct {
	records   []codec.Record
	created   []codec.Record
	lastPatch codec.Patch
	found     bool
	openSleep *codec.Record
}

func (m *mockRepo) List(ctx context.Context, accountID string, limit int) ([]codec.Record, error) {
	return m.records, nil
}

func (m *mockRepo) Create(ctx context.Context, rec codec.Record) error {
	m.created = append(m.created, rec)
	return nil
}

func (m *mockRepo) Patch(ctx context.Context, accountID, id string, fields codec.Patch) (bool, error) {
	m.lastPatch = fields
	return m.found, nil
}

func (m *mockRepo) Delete(ctx context.Context, accountID, id string) (bool, error) {
	return m.found, nil
}

func (m *mockRepo) FindOpenSleep(ctx context.Context, accountID string) (*codec.Record, error) {
	return m.openSleep, nil
}
