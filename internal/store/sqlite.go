// ABOUTME: SQLite implementation of the TraceStore interface using modernc.org/sqlite
// ABOUTME: Stores trace runs and their raw events with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/trace"
)

// timeFormat is fixed-width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the TraceStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trace_runs (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_message TEXT NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trace_runs_conversation
			ON trace_runs(conversation_id, started_at);

		CREATE INDEX IF NOT EXISTS idx_trace_runs_started
			ON trace_runs(started_at);

		CREATE TABLE IF NOT EXISTS trace_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES trace_runs(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// SaveRun archives a finished trace run and its events in one transaction.
// Returns ErrDuplicateRun if the run id was already saved.
func (s *SQLiteStore) SaveRun(ctx context.Context, conversationID string, run trace.Run) error {
	if run.ID == "" {
		return fmt.Errorf("trace run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trace_runs (id, conversation_id, user_message, event_count, started_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		conversationID,
		run.UserMessage,
		len(run.Events),
		run.StartedAt.UTC().Format(timeFormat),
		s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("inserting trace run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trace_events (run_id, seq, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range run.Events {
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(ev)); err != nil {
			return fmt.Errorf("inserting trace event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trace run: %w", err)
	}

	s.logger.Debug("archived trace run", "id", run.ID, "conversation_id", conversationID, "events", len(run.Events))
	return nil
}

// GetRun retrieves a run with all of its events.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*ArchivedRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_message, event_count, started_at, saved_at
		FROM trace_runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM trace_events WHERE run_id = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying trace events: %w", err)
	}
	defer rows.Close()

	run.Events = make([]json.RawMessage, 0, run.EventCount)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning trace event: %w", err)
		}
		run.Events = append(run.Events, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace events: %w", err)
	}

	return run, nil
}

// ListRuns returns archived runs newest first, without their events.
func (s *SQLiteStore) ListRuns(ctx context.Context, params ListRunsParams) ([]*ArchivedRun, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, conversation_id, user_message, event_count, started_at, saved_at
		FROM trace_runs
	`
	args := []any{}
	if params.ConversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, params.ConversationID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trace runs: %w", err)
	}
	defer rows.Close()

	var runs []*ArchivedRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace runs: %w", err)
	}

	return runs, nil
}

// DeleteConversationRuns removes every run archived for a conversation.
// Returns the number of runs removed.
func (s *SQLiteStore) DeleteConversationRuns(ctx context.Context, conversationID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM trace_runs WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("deleting trace runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	s.logger.Debug("deleted trace runs", "conversation_id", conversationID, "count", n)
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ArchivedRun, error) {
	var run ArchivedRun
	var startedAtStr, savedAtStr string

	err := row.Scan(
		&run.ID,
		&run.ConversationID,
		&run.UserMessage,
		&run.EventCount,
		&startedAtStr,
		&savedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning trace run: %w", err)
	}

	run.StartedAt, err = time.Parse(timeFormat, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	run.SavedAt, err = time.Parse(timeFormat, savedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing saved_at: %w", err)
	}

	return &run, nil
}
