// Package api exposes the log agent's HTTP surface: a read-only snapshot
// of the day buckets plus the mutation operations, all fire-and-forget.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/store"
	"example.com/nestlog/internal/timeutil"
)

// Handler coordinates HTTP requests with the activity store.
type Handler struct {
	store *store.Store
}

// NewHandler builds a Handler.
func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/log", h.snapshot)
	mux.HandleFunc("/v1/log/activities", h.activities)
	mux.HandleFunc("/v1/log/activities/", h.activityByID)
	mux.HandleFunc("/v1/log/sleep/complete", h.completeSleep)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeEntriesRead) && !claims.HasScope(auth.ScopeEntriesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope entries:read required")
		return
	}

	days, marker := h.store.Snapshot()
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Days:            days,
		SleepInProgress: marker,
	})
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !h.requireWrite(w, r) {
		return
	}

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	entry, _, err := h.store.RecordActivity(store.Intent{
		Type:     domain.ActivityType(req.Type),
		Subtype:  req.Subtype,
		Time:     req.Time,
		AmountML: req.AmountML,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, MutationResponse{Status: "accepted", Entry: entry})
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/log/activities/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}
	if !h.requireWrite(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.editActivity(w, r, id)
	case http.MethodDelete:
		h.store.DeleteActivity(id)
		writeJSON(w, http.StatusAccepted, MutationResponse{Status: "accepted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) editActivity(w http.ResponseWriter, r *http.Request, id string) {
	var entry domain.ActivityEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	entry.ID = id

	if _, err := h.store.EditActivity(entry); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, MutationResponse{Status: "accepted", Entry: &entry})
}

func (h *Handler) completeSleep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !h.requireWrite(w, r) {
		return
	}

	var req CompleteSleepRequest
	if r.Body != nil {
		// An empty or absent body means "end now".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var endAt *time.Time
	if req.EndTime != "" {
		hour, minute, err := timeutil.ParseHM(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		end := timeutil.CombineDayTime(time.Now(), hour, minute)
		endAt = &end
	}

	entry, _, err := h.store.CompleteSleepSession(endAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoOpenSession):
			writeJSON(w, http.StatusOK, MutationResponse{Status: "no_session"})
		case errors.Is(err, domain.ErrInvalidTimeRange):
			writeError(w, http.StatusBadRequest, "invalid_time_range", "sleep end precedes sleep start")
		default:
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, MutationResponse{Status: "accepted", Entry: entry})
}

func (h *Handler) requireWrite(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(auth.ScopeEntriesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope entries:write required")
		return false
	}
	return true
}

// RecordActivityRequest is the payload for POST /v1/log/activities.
type RecordActivityRequest struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Time     string `json:"time,omitempty"`
	AmountML *int   `json:"amount_ml,omitempty"`
}

// Validate ensures request correctness before it reaches the store.
func (r RecordActivityRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	if strings.TrimSpace(r.Subtype) == "" {
		return errors.New("subtype is required")
	}
	return nil
}

// CompleteSleepRequest is the payload for POST /v1/log/sleep/complete.
type CompleteSleepRequest struct {
	EndTime string `json:"end_time,omitempty"`
}

// SnapshotResponse is the read-only view of the local log.
type SnapshotResponse struct {
	Days            []domain.DayBucket  `json:"days"`
	SleepInProgress *domain.SleepMarker `json:"sleep_in_progress,omitempty"`
}

// MutationResponse acknowledges an optimistic mutation. The remote write
// settles in the background.
type MutationResponse struct {
	Status string                `json:"status"`
	Entry  *domain.ActivityEntry `json:"entry,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
