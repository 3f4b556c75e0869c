package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row cannot be located.
var ErrNotFound = errors.New("state: not found")

// Dialect selects SQL flavor differences between the supported drivers.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const sqlitePrefix = "sqlite:"

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &Store{db: db, dialect: dialect}
}

// Open connects to a ledger database. URLs starting with "sqlite:" use the
// embedded SQLite driver; anything else is handed to pgx.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}

	driver, dsn, dialect := "pgx", databaseURL, DialectPostgres
	if strings.HasPrefix(databaseURL, sqlitePrefix) {
		driver, dsn, dialect = "sqlite", strings.TrimPrefix(databaseURL, sqlitePrefix), DialectSQLite
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db, dialect), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in its initial state.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	if run.State == "" {
		run.State = RunStateReceived
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO report_runs (id, kind, year, week, requester_id, channel, state, cause, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Kind, run.Year, run.Week, run.RequesterID, run.Channel, string(run.State), string(run.Cause), run.Attempts, run.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// TransitionRun moves a run to next after validating the state machine.
func (s *Store) TransitionRun(ctx context.Context, runID string, next RunState, cause FailureCause) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current RunState
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT state FROM report_runs WHERE id = ?`), runID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: run %s", ErrNotFound, runID)
			}
			return err
		}

		if err := ValidateTransition(runID, current, next); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE report_runs SET state = ?, cause = ?, updated_at = ? WHERE id = ? AND state = ?`),
			string(next), string(cause), time.Now().UTC(), runID, string(current))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return TransitionError{ID: runID, From: current, To: next}
		}
		return nil
	})
}

// RecordAttempt stores a finished engine attempt and bumps the run's attempt count.
func (s *Store) RecordAttempt(ctx context.Context, attempt Attempt) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO report_attempts (run_id, number, outcome, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?)`),
			attempt.RunID, attempt.Number, string(attempt.Outcome), attempt.Error, attempt.StartedAt.UTC(), attempt.FinishedAt.UTC()); err != nil {
			return fmt.Errorf("insert attempt %s/%d: %w", attempt.RunID, attempt.Number, err)
		}
		_, err := tx.ExecContext(ctx, s.rebind(`UPDATE report_runs SET attempts = ?, updated_at = ? WHERE id = ?`),
			attempt.Number, time.Now().UTC(), attempt.RunID)
		return err
	})
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, kind, year, week, requester_id, channel, state, cause, attempts, created_at, updated_at
FROM report_runs WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return run, err
}

// ListRecentRuns returns the newest runs first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, kind, year, week, requester_id, channel, state, cause, attempts, created_at, updated_at
FROM report_runs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) ListAttempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT run_id, number, outcome, error, started_at, finished_at
FROM report_attempts WHERE run_id = ? ORDER BY number ASC`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var outcome string
		if err := rows.Scan(&a.RunID, &a.Number, &outcome, &a.Error, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		a.Outcome = AttemptOutcome(outcome)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var runState, cause string
	if err := row.Scan(&run.ID, &run.Kind, &run.Year, &run.Week, &run.RequesterID, &run.Channel,
		&runState, &cause, &run.Attempts, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return Run{}, err
	}
	run.State = RunState(runState)
	run.Cause = FailureCause(cause)
	return run, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// rebind rewrites '?' placeholders into the positional form pgx expects.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
