package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/nestlog/internal/codec"
	"example.com/nestlog/internal/domain"
)

// listWindow bounds the reconciliation fetch to the most recent records.
const listWindow = 200

// HTTPGateway is the entries-service client used by the agent.
type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPGateway constructs a client for the entries service. An empty
// token means no signed-in identity; every call then fails with
// domain.ErrNotSignedIn and the caller stays local-only.
func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListEntries fetches the newest records for the signed-in identity.
func (g *HTTPGateway) ListEntries(ctx context.Context) ([]codec.Record, error) {
	var payload struct {
		Items []codec.Record `json:"items"`
	}
	url := fmt.Sprintf("%s/v1/entries?limit=%d", g.baseURL, listWindow)
	if err := g.do(ctx, http.MethodGet, url, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// CreateEntry inserts a record and returns the durable identifier.
func (g *HTTPGateway) CreateEntry(ctx context.Context, rec codec.Record) (string, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, g.baseURL+"/v1/entries", rec, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

// UpdateEntry applies a partial record to the row with the given id.
func (g *HTTPGateway) UpdateEntry(ctx context.Context, id string, patch codec.Patch) error {
	return g.do(ctx, http.MethodPatch, g.baseURL+"/v1/entries/"+id, patch, nil)
}

// DeleteEntry removes the row with the given id.
func (g *HTTPGateway) DeleteEntry(ctx context.Context, id string) error {
	return g.do(ctx, http.MethodDelete, g.baseURL+"/v1/entries/"+id, nil, nil)
}

// FindOpenSleep returns the most recent open sleep record, or nil when the
// service reports none.
func (g *HTTPGateway) FindOpenSleep(ctx context.Context) (*codec.Record, error) {
	var rec codec.Record
	err := g.do(ctx, http.MethodGet, g.baseURL+"/v1/entries/open-sleep", nil, &rec)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("entries service returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (g *HTTPGateway) do(ctx context.Context, method, url string, body, out any) error {
	if g.token == "" {
		return domain.ErrNotSignedIn
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(data))}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
