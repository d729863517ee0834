// Package postgres provides the durable entries store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/nestlog/internal/codec"
)

// Repository provides Postgres-backed persistence for activity records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the entries schema when it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    event        TEXT NOT NULL,
    value        INTEGER,
    unit         TEXT,
    started_at   TIMESTAMPTZ NOT NULL,
    duration_min INTEGER,
    notes        TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS entries_account_started_idx
    ON entries (account_id, started_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS entries_open_sleep_idx
    ON entries (account_id, started_at DESC)
    WHERE event = 'sleep' AND duration_min IS NULL;
`
	_, err := pool.Exec(ctx, schema)
	return err
}

const recordColumns = `id, account_id, event, value, unit, started_at, duration_min, notes`

// List returns the account's newest records first, capped to limit.
func (r *Repository) List(ctx context.Context, accountID string, limit int) ([]codec.Record, error) {
	const query = `SELECT ` + recordColumns + `
        FROM entries WHERE account_id=$1
        ORDER BY started_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]codec.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Create persists a record.
func (r *Repository) Create(ctx context.Context, rec codec.Record) error {
	const stmt = `INSERT INTO entries (id, account_id, event, value, unit, started_at, duration_min, notes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.pool.Exec(ctx, stmt,
		rec.ID,
		rec.AccountID,
		rec.Event,
		rec.Value,
		rec.Unit,
		rec.StartedAt,
		rec.DurationMin,
		rec.Notes,
	)
	return err
}

// patchColumns maps wire field names to table columns. Only these may
// appear in a patch.
var patchColumns = map[string]string{
	"event":        "event",
	"value":        "value",
	"unit":         "unit",
	"started_at":   "started_at",
	"duration_min": "duration_min",
	"notes":        "notes",
}

// Patch applies present fields to an existing row. Nil values write SQL
// NULL. Returns false when the account has no such row.
func (r *Repository) Patch(ctx context.Context, accountID, id string, fields codec.Patch) (bool, error) {
	if len(fields) == 0 {
		return false, errors.New("empty patch")
	}

	assignments := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields)+2)
	for key, value := range fields {
		column, ok := patchColumns[key]
		if !ok {
			return false, fmt.Errorf("unknown patch field %q", key)
		}
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	args = append(args, accountID, id)

	stmt := fmt.Sprintf(`UPDATE entries SET %s WHERE account_id=$%d AND id=$%d`,
		strings.Join(assignments, ", "), len(args)-1, len(args))

	tag, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a row. Returns false when the account has no such row.
func (r *Repository) Delete(ctx context.Context, accountID, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM entries WHERE account_id=$1 AND id=$2`, accountID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindOpenSleep returns the newest unfinished sleep row, or nil.
func (r *Repository) FindOpenSleep(ctx context.Context, accountID string) (*codec.Record, error) {
	const query = `SELECT ` + recordColumns + `
        FROM entries
        WHERE account_id=$1 AND event='sleep' AND duration_min IS NULL
        ORDER BY started_at DESC LIMIT 1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func scanRecord(row pgx.Row) (codec.Record, error) {
	var rec codec.Record
	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&rec.Event,
		&rec.Value,
		&rec.Unit,
		&rec.StartedAt,
		&rec.DurationMin,
		&rec.Notes,
	)
	return rec, err
}
