// Package history persists one record per update attempt so an operator can
// ask what the engine did overnight without scraping the run log.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix seconds; the driver round-trips integers
// without any format ambiguity.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	final_state TEXT,
	version     TEXT,
	error       TEXT
);
`

// Run is one recorded update attempt.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalState string
	Version    string
	Error      string
}

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a run.
func (s *Store) Begin(runID string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, startedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// Finish records a run's terminal state. version may be empty when the run
// never resolved a release; errText is empty on success.
func (s *Store) Finish(runID, finalState, version, errText string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, final_state = ?, version = ?, error = ? WHERE id = ?`,
		finishedAt.Unix(), finalState, version, errText, runID,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %q was never started", runID)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, COALESCE(finished_at, started_at),
		       COALESCE(final_state, ''), COALESCE(version, ''), COALESCE(error, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.FinalState, &r.Version, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.FinishedAt = time.Unix(finished, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
