package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteRepository implements Repository on the runs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts run. State defaults to running and StartedAt to now.
func (r *SQLiteRepository) Create(ctx context.Context, run Run) error {
	if run.ID == "" || run.Command == "" {
		return fmt.Errorf("%w: id and command are required", ErrInvalidRun)
	}
	if run.State == "" {
		run.State = StateRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}
	var endedAt sql.NullString
	if run.EndedAt != nil {
		endedAt = sql.NullString{String: formatTime(*run.EndedAt), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, dir, pid, state, exit_code, signal, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Dir, run.PID, run.State,
		exitCode, run.Signal, run.Error,
		formatTime(run.StartedAt), endedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Finish records the outcome of run id.
func (r *SQLiteRepository) Finish(ctx context.Context, id string, outcome Outcome) error {
	if outcome.State == "" {
		outcome.State = StateExited
	}
	if outcome.EndedAt.IsZero() {
		outcome.EndedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, exit_code = ?, signal = ?, error = ?, ended_at = ?
		 WHERE id = ?`,
		outcome.State, outcome.ExitCode, outcome.Signal, outcome.Error,
		formatTime(outcome.EndedAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Get returns run id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum runs to return (default 50, max 500)
//
// Returns:
//   - []Run: Runs ordered by started_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, selectRuns+" ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Prune deletes finished runs that ended more than olderThan ago.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM runs WHERE ended_at IS NOT NULL AND ended_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

const selectRuns = `SELECT id, command, dir, pid, state, exit_code, signal, error, started_at, ended_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run       Run
		exitCode  sql.NullInt64
		startedAt string
		endedAt   sql.NullString
	)
	err := s.Scan(&run.ID, &run.Command, &run.Dir, &run.PID, &run.State,
		&exitCode, &run.Signal, &run.Error, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return Run{}, err
		}
		run.EndedAt = &t
	}
	return run, nil
}

// Timestamps are stored as UTC RFC3339 with nanoseconds so they sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

var _ Repository = (*SQLiteRepository)(nil)
