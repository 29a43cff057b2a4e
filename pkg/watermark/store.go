// Package watermark implements the atomic, transactional watermark
// store of §4.8: a key→value table keyed by (pipeline, source, target,
// cursor_column), enforcing monotonicity, backed by an embedded SQLite
// database via database/sql + github.com/mattn/go-sqlite3 — the same
// pairing the teacher uses for its own build/catalog database.
package watermark

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Key identifies one watermark per §3's "Watermark" data model.
type Key struct {
	Pipeline     string
	Source       string
	Target       string
	CursorColumn string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Pipeline, k.Source, k.Target, k.CursorColumn)
}

// Entry is one stored watermark value plus its commit metadata.
type Entry struct {
	Value     string
	UpdatedAt time.Time
	RunID     string
}

// RegressionError is returned when Set is given a value strictly less
// than the currently stored value for a key.
type RegressionError struct {
	Key      Key
	Current  string
	Attempt  string
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("watermark regression for %s: current=%q attempted=%q", e.Key, e.Current, e.Attempt)
}

// Comparer orders two stored watermark string values; Set uses it to
// detect regression. Comparisons are type-aware: callers pass a
// Comparer matched to the cursor column's logical type (numeric,
// timestamp, or lexical string order).
type Comparer func(a, b string) int

// Store is the embedded transactional watermark store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed watermark store at
// path. An empty path opens an in-memory, process-local store, used by
// tests and by pipelines with no persistence requirement.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("watermark: open %q: %w", path, err)
	}
	var s = &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS watermarks (
	pipeline      TEXT NOT NULL,
	source        TEXT NOT NULL,
	target        TEXT NOT NULL,
	cursor_column TEXT NOT NULL,
	value         TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	PRIMARY KEY (pipeline, source, target, cursor_column)
);
CREATE TABLE IF NOT EXISTS watermark_history (
	pipeline      TEXT NOT NULL,
	source        TEXT NOT NULL,
	target        TEXT NOT NULL,
	cursor_column TEXT NOT NULL,
	value         TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	run_id        TEXT NOT NULL
);
`
	var _, err = s.db.Exec(ddl)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored value for key, if any.
func (s *Store) Get(key Key) (string, bool, error) {
	var value string
	var err = s.db.QueryRow(
		`SELECT value FROM watermarks WHERE pipeline=? AND source=? AND target=? AND cursor_column=?`,
		key.Pipeline, key.Source, key.Target, key.CursorColumn,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("watermark: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set atomically writes value for key under runID, enforcing
// monotonicity via cmp: rejects a strictly-decreasing value, accepts an
// equal value idempotently. On failure the prior value is left intact
// (the whole operation runs inside one transaction).
func (s *Store) Set(key Key, value string, runID string, cmp Comparer) error {
	var tx, err = s.db.Begin()
	if err != nil {
		return fmt.Errorf("watermark: begin: %w", err)
	}
	var committed = false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current string
	var has bool
	err = tx.QueryRow(
		`SELECT value FROM watermarks WHERE pipeline=? AND source=? AND target=? AND cursor_column=?`,
		key.Pipeline, key.Source, key.Target, key.CursorColumn,
	).Scan(&current)
	if err == nil {
		has = true
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("watermark: set %s: %w", key, err)
	}

	if has && cmp(value, current) < 0 {
		return &RegressionError{Key: key, Current: current, Attempt: value}
	}

	var now = time.Now().UTC().Format(time.RFC3339Nano)
	if has {
		if _, err := tx.Exec(
			`UPDATE watermarks SET value=?, updated_at=?, run_id=? WHERE pipeline=? AND source=? AND target=? AND cursor_column=?`,
			value, now, runID, key.Pipeline, key.Source, key.Target, key.CursorColumn,
		); err != nil {
			return fmt.Errorf("watermark: update %s: %w", key, err)
		}
	} else {
		if _, err := tx.Exec(
			`INSERT INTO watermarks (pipeline, source, target, cursor_column, value, updated_at, run_id) VALUES (?,?,?,?,?,?,?)`,
			key.Pipeline, key.Source, key.Target, key.CursorColumn, value, now, runID,
		); err != nil {
			return fmt.Errorf("watermark: insert %s: %w", key, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO watermark_history (pipeline, source, target, cursor_column, value, updated_at, run_id) VALUES (?,?,?,?,?,?,?)`,
		key.Pipeline, key.Source, key.Target, key.CursorColumn, value, now, runID,
	); err != nil {
		return fmt.Errorf("watermark: history insert %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("watermark: commit %s: %w", key, err)
	}
	committed = true
	return nil
}

// History returns up to limit most-recent entries for key, newest first.
func (s *Store) History(key Key, limit int) ([]Entry, error) {
	var rows, err = s.db.Query(
		`SELECT value, updated_at, run_id FROM watermark_history
		 WHERE pipeline=? AND source=? AND target=? AND cursor_column=?
		 ORDER BY rowid DESC LIMIT ?`,
		key.Pipeline, key.Source, key.Target, key.CursorColumn, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("watermark: history %s: %w", key, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updatedAt string
		if err := rows.Scan(&e.Value, &updatedAt, &e.RunID); err != nil {
			return nil, fmt.Errorf("watermark: history scan %s: %w", key, err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes the stored value for key (but not its history), for
// explicit reset.
func (s *Store) Clear(key Key) error {
	var _, err = s.db.Exec(
		`DELETE FROM watermarks WHERE pipeline=? AND source=? AND target=? AND cursor_column=?`,
		key.Pipeline, key.Source, key.Target, key.CursorColumn,
	)
	if err != nil {
		return fmt.Errorf("watermark: clear %s: %w", key, err)
	}
	return nil
}
