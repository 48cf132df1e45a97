package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wikiseek/internal/models"
)

// SQLiteStore persists history in the search_history table created by db.Open.
type SQLiteStore struct {
	db    *sql.DB
	opts  Options
	clock *clock
}

// NewSQLiteStore wraps an open database. The newest stored timestamp seeds the
// store clock so ordering survives restarts.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts Options) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, opts: opts, clock: newClock(time.Nanosecond)}

	var newest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM search_history;`).Scan(&newest); err != nil {
		return nil, fmt.Errorf("read newest history entry: %w", err)
	}
	if newest.Valid {
		s.clock.observe(time.Unix(0, newest.Int64).UTC())
	}
	return s, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	entry, err := prepare(entry)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.opts.now()
	}
	entry.Timestamp = s.clock.next(entry.Timestamp)

	results, err := json.Marshal(entry.Results)
	if err != nil {
		return persistErr("encode results", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search_history WHERE query = ?;`, entry.Query); err != nil {
		return persistErr("dedupe", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO search_history (id, query, kind, status, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, entry.ID, entry.Query, entry.Kind, entry.Status, string(results), entry.Timestamp.UnixNano()); err != nil {
		return persistErr("insert", err)
	}
	if s.opts.Retain > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM search_history WHERE id NOT IN (
				SELECT id FROM search_history ORDER BY created_at DESC LIMIT ?
			);
		`, s.opts.Retain); err != nil {
			return persistErr("trim", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		return []models.HistoryEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, kind, status, results, created_at
		FROM search_history ORDER BY created_at DESC LIMIT ?;
	`, n)
	if err != nil {
		return nil, persistErr("query recent", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0, n)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate recent", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, kind, status, results, created_at
		FROM search_history WHERE id = ?;
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.HistoryEntry{}, models.ErrEntryNotFound
	}
	return entry, err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_history;`); err != nil {
		return persistErr("clear", err)
	}
	return nil
}

// Close is a no-op; the database handle belongs to the caller of db.Open.
func (s *SQLiteStore) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.HistoryEntry, error) {
	var (
		entry   models.HistoryEntry
		results string
		created int64
	)
	if err := row.Scan(&entry.ID, &entry.Query, &entry.Kind, &entry.Status, &results, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, persistErr("scan", err)
	}
	if err := json.Unmarshal([]byte(results), &entry.Results); err != nil {
		return entry, persistErr("decode results", err)
	}
	entry.Timestamp = time.Unix(0, created).UTC()
	return entry, nil
}

var _ Store = (*SQLiteStore)(nil)
