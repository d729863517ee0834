package store

import (
	"context"
	"errors"

	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/observability"
)

// Resume rehydrates state at startup: the scratch marker is restored first
// for a fast local resume, then the day buckets are rebuilt from the remote
// store and the marker is confirmed (or cleared) against the most recent
// open sleep row.
func (s *Store) Resume(ctx context.Context) error {
	if marker, err := s.scratch.SleepMarker(); err != nil {
		s.logger.Printf("read scratch marker: %v", err)
	} else if marker != nil {
		s.mu.Lock()
		s.marker = marker
		s.mu.Unlock()
		observability.SetSleepSessionOpen(true)
	}

	if err := s.Reconcile(ctx); err != nil {
		if errors.Is(err, domain.ErrNotSignedIn) {
			s.logger.Printf("no signed-in identity, running local-only")
			return nil
		}
		// Existing (possibly stale or empty) local state stays untouched;
		// the open-sleep check below may still succeed on a flaky link.
	}

	open, err := s.gateway.FindOpenSleep(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotSignedIn) {
			s.logger.Printf("open sleep lookup failed: %v", err)
		}
		return nil
	}

	if open == nil {
		s.mu.Lock()
		s.marker = nil
		s.mu.Unlock()
		observability.SetSleepSessionOpen(false)
		if err := s.scratch.ClearSleepMarker(); err != nil {
			s.logger.Printf("clear sleep marker: %v", err)
		}
		return nil
	}

	marker := domain.SleepMarker{StartedAt: open.StartedAt.Local(), RemoteID: open.ID}
	s.mu.Lock()
	s.marker = &marker
	s.mu.Unlock()
	observability.SetSleepSessionOpen(true)
	if err := s.scratch.PutSleepMarker(marker); err != nil {
		s.logger.Printf("persist sleep marker: %v", err)
	}
	return nil
}
