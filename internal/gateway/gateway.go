// Package gateway talks to the remote entries service on behalf of the
// signed-in identity.
package gateway

import (
	"context"

	"example.com/nestlog/internal/codec"
)

// Gateway captures the remote operations the activity store depends on.
// Implementations scope every call strictly to the caller's identity.
type Gateway interface {
	// ListEntries returns the most recent records, newest first, capped to
	// a bounded window.
	ListEntries(ctx context.Context) ([]codec.Record, error)
	// CreateEntry persists a record and returns the durable identifier.
	CreateEntry(ctx context.Context, rec codec.Record) (string, error)
	// UpdateEntry applies a partial record to an existing row.
	UpdateEntry(ctx context.Context, id string, patch codec.Patch) error
	// DeleteEntry removes a row.
	DeleteEntry(ctx context.Context, id string) error
	// FindOpenSleep returns the most recent sleep record with a null
	// duration, or nil when no session is open.
	FindOpenSleep(ctx context.Context) (*codec.Record, error)
}
