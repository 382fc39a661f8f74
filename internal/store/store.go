// Package store provides a SQLite-backed archive of finished query traces.
// Traces are kept as JSON alongside a few indexed columns so recent
// queries can be listed without decoding every row.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/routerag-go/internal/trace"
)

// ErrNotFound is returned by Get for an unknown query id.
var ErrNotFound = errors.New("store: trace not found")

// SQLiteStore archives traces in a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default archive path, ~/.routerag/traces.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".routerag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "traces.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS traces (
    query_id     TEXT    PRIMARY KEY,
    query        TEXT    NOT NULL,
    branch       TEXT    NOT NULL,
    state        TEXT    NOT NULL,
    overall      REAL,                -- NULL when evaluation was omitted
    received_at  INTEGER NOT NULL,    -- Unix timestamp (nanoseconds)
    body         TEXT    NOT NULL     -- JSON-encoded trace
);
CREATE INDEX IF NOT EXISTS idx_traces_received
    ON traces (received_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save archives t, replacing any earlier copy with the same query id.
func (s *SQLiteStore) Save(ctx context.Context, t *trace.Trace) error {
	if t == nil {
		return fmt.Errorf("store: save: nil trace")
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: save: encode %s: %w", t.QueryID, err)
	}
	var overall sql.NullFloat64
	if t.Evaluation != nil {
		overall = sql.NullFloat64{Float64: t.Evaluation.Overall, Valid: true}
	}

	const q = `INSERT OR REPLACE INTO traces (query_id, query, branch, state, overall, received_at, body)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, t.QueryID, t.Query, string(t.Branch()), string(t.State),
		overall, t.ReceivedAt.UnixNano(), string(body)); err != nil {
		return fmt.Errorf("store: save %s: %w", t.QueryID, err)
	}
	return nil
}

// Recent returns up to n traces, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]*trace.Trace, error) {
	if n <= 0 {
		return []*trace.Trace{}, nil
	}
	const q = `SELECT body FROM traces ORDER BY received_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	traces := []*trace.Trace{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		t, err := decode(body)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return traces, nil
}

// Get returns the trace archived under queryID.
func (s *SQLiteStore) Get(ctx context.Context, queryID string) (*trace.Trace, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM traces WHERE query_id = ?`, queryID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", queryID, err)
	}
	return decode(body)
}

// Prune deletes traces received before cutoff and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE received_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return n, nil
}

func decode(body string) (*trace.Trace, error) {
	var t trace.Trace
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("store: decode trace: %w", err)
	}
	return &t, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
