// Package history keeps a durable log of finished polls in SQLite.
//
// The log answers "what happened to the export I started yesterday" after
// the in-memory store has been restarted. Only terminal outcomes are
// recorded; running polls live in the store.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS poll_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	handle_id   TEXT    NOT NULL,
	task_id     TEXT    NOT NULL,
	job         TEXT    NOT NULL DEFAULT '',
	outcome     TEXT    NOT NULL,
	checks      INTEGER NOT NULL,
	retries     INTEGER NOT NULL,
	result      TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS poll_history_task ON poll_history (task_id);
CREATE INDEX IF NOT EXISTS poll_history_finished ON poll_history (finished_at);
`

// DefaultLimit caps Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

// Entry is one finished poll.
type Entry struct {
	HandleID   string    `json:"handle_id"`
	TaskID     string    `json:"task_id"`
	Job        string    `json:"job,omitempty"`
	Outcome    string    `json:"outcome"`
	Checks     int       `json:"checks"`
	Retries    int       `json:"retries"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Log is a SQLite-backed history of finished polls.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &Log{db: db}, nil
}

// Record appends a finished poll.
func (l *Log) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO poll_history
			(handle_id, task_id, job, outcome, checks, retries, result, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.HandleID, e.TaskID, e.Job, e.Outcome, e.Checks, e.Retries, e.Result, e.Error,
		e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record poll %s: %w", e.HandleID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return l.query(ctx,
		`SELECT handle_id, task_id, job, outcome, checks, retries, result, error, started_at, finished_at
		 FROM poll_history ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
}

// ForTask returns every entry for taskID, newest first.
func (l *Log) ForTask(ctx context.Context, taskID string) ([]Entry, error) {
	return l.query(ctx,
		`SELECT handle_id, task_id, job, outcome, checks, retries, result, error, started_at, finished_at
		 FROM poll_history WHERE task_id = ? ORDER BY finished_at DESC, id DESC`, taskID)
}

func (l *Log) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
		)
		if err := rows.Scan(&e.HandleID, &e.TaskID, &e.Job, &e.Outcome, &e.Checks, &e.Retries,
			&e.Result, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, finished)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// Close closes the database. Safe to call on a nil Log.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
