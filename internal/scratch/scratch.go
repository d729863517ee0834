// Package scratch is the device-local durable store used to remember an
// in-progress sleep session across restarts. It holds a single key.
package scratch

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"example.com/nestlog/internal/domain"
)

const sleepKey = "sleep_in_progress"

// Store is a sqlite-backed key-value scratch pad.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the scratch database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open scratch database: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS scratch (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate scratch: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory creates an in-memory scratch store for testing.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SleepMarker reads the persisted in-progress sleep marker, or nil when absent.
func (s *Store) SleepMarker() (*domain.SleepMarker, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM scratch WHERE key = ?`, sleepKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sleep marker: %w", err)
	}

	var marker domain.SleepMarker
	if err := json.Unmarshal([]byte(value), &marker); err != nil {
		return nil, fmt.Errorf("decode sleep marker: %w", err)
	}
	return &marker, nil
}

// PutSleepMarker replaces the persisted marker wholesale.
func (s *Store) PutSleepMarker(marker domain.SleepMarker) error {
	value, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO scratch (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		sleepKey, string(value),
	)
	if err != nil {
		return fmt.Errorf("write sleep marker: %w", err)
	}
	return nil
}

// ClearSleepMarker removes the persisted marker.
func (s *Store) ClearSleepMarker() error {
	if _, err := s.db.Exec(`DELETE FROM scratch WHERE key = ?`, sleepKey); err != nil {
		return fmt.Errorf("clear sleep marker: %w", err)
	}
	return nil
}

// DefaultPath returns ~/.config/nestlog/scratch.db.
func DefaultPath() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "nestlog", "scratch.db"), nil
}
