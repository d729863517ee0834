// Package entries implements the remote entries service: account-scoped
// CRUD over durable activity records, consumed by the log agent during
// reconciliation.
package entries

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/codec"
)

// Repository abstracts durable storage for records.
type Repository interface {
	// List returns an account's newest records first, capped to limit.
	List(ctx context.Context, accountID string, limit int) ([]codec.Record, error)
	Create(ctx context.Context, rec codec.Record) error
	// Patch applies present fields to a row; nil values write SQL NULL.
	// Returns false when the row does not exist for the account.
	Patch(ctx context.Context, accountID, id string, fields codec.Patch) (bool, error)
	Delete(ctx context.Context, accountID, id string) (bool, error)
	// FindOpenSleep returns the newest sleep row with a null duration, or
	// nil when the account has no open session.
	FindOpenSleep(ctx context.Context, accountID string) (*codec.Record, error)
}

// patchable lists the columns a PATCH request may touch.
var patchable = map[string]struct{}{
	"event":        {},
	"value":        {},
	"unit":         {},
	"started_at":   {},
	"duration_min": {},
	"notes":        {},
}

var (
	errUnknownEvent = errors.New("unknown event")
	errUnknownField = errors.New("unknown field")
)

var knownEvents = map[string]struct{}{
	codec.EventFeedFormula: {},
	codec.EventFeedBreast:  {},
	codec.EventPee:         {},
	codec.EventPoop:        {},
	codec.EventSleep:       {},
	codec.EventWake:        {},
}

// Handler serves the entries HTTP API.
type Handler struct {
	repo    Repository
	maxList int
	logger  *log.Logger
}

// NewHandler builds a Handler. maxList bounds the list window.
func NewHandler(repo Repository, maxList int, logger *log.Logger) *Handler {
	if maxList <= 0 {
		maxList = 200
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[entries] ", log.LstdFlags)
	}
	return &Handler{repo: repo, maxList: maxList, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/entries", h.collection)
	mux.HandleFunc("/v1/entries/open-sleep", h.openSleep)
	mux.HandleFunc("/v1/entries/", h.entryByID)
	mux.HandleFunc("/healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// ListResponse wraps the bounded list of records, newest first.
type ListResponse struct {
	Items []codec.Record `json:"items"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeEntriesRead, auth.ScopeEntriesWrite)
	if !ok {
		return
	}

	limit := h.maxList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	records, err := h.repo.List(r.Context(), claims.AccountID, limit)
	if err != nil {
		h.logger.Printf("list entries for %s: %v", claims.AccountID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unable to list entries")
		return
	}
	if records == nil {
		records = []codec.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: records})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireScope(w, r, auth.ScopeEntriesWrite)
	if !ok {
		return
	}

	var rec codec.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if _, known := knownEvents[rec.Event]; !known {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown event")
		return
	}
	if rec.StartedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "started_at is required")
		return
	}

	rec.ID = uuid.NewString()
	rec.AccountID = claims.AccountID
	rec.StartedAt = rec.StartedAt.UTC()

	if err := h.repo.Create(r.Context(), rec); err != nil {
		h.logger.Printf("create entry for %s: %v", claims.AccountID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unable to create entry")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) entryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/entries/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing entry id")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeEntriesWrite)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPatch:
		h.patch(w, r, claims.AccountID, id)
	case http.MethodDelete:
		found, err := h.repo.Delete(r.Context(), claims.AccountID, id)
		if err != nil {
			h.logger.Printf("delete entry %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unable to delete entry")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "no such entry")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request, accountID, id string) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "empty patch")
		return
	}

	fields := make(codec.Patch, len(body))
	for key, raw := range body {
		if _, allowed := patchable[key]; !allowed {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown field "+key)
			return
		}
		value, err := decodeField(key, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		fields[key] = value
	}

	found, err := h.repo.Patch(r.Context(), accountID, id, fields)
	if err != nil {
		h.logger.Printf("patch entry %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unable to update entry")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no such entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) openSleep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.requireScope(w, r, auth.ScopeEntriesRead, auth.ScopeEntriesWrite)
	if !ok {
		return
	}

	rec, err := h.repo.FindOpenSleep(r.Context(), claims.AccountID)
	if err != nil {
		h.logger.Printf("find open sleep for %s: %v", claims.AccountID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unable to query open session")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not_found", "no open sleep session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// decodeField converts one raw patch value into a typed Go value. A JSON
// null becomes a nil, which the repository writes as SQL NULL.
func decodeField(key string, raw json.RawMessage) (any, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	switch key {
	case "event":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if _, known := knownEvents[v]; !known {
			return nil, errUnknownEvent
		}
		return v, nil
	case "unit", "notes":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "value", "duration_min":
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "started_at":
		var v time.Time
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v.UTC(), nil
	}
	return nil, errUnknownField
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "insufficient scope")
	return nil, false
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
