// Package history keeps run results in a SQLite database so repeated and
// scheduled runs can be compared over time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/executor"
)

// DefaultFile is the database name under the touchflow home directory.
const DefaultFile = "history.db"

// Store handles all database operations.
type Store struct {
	db *sql.DB
}

// Run is one recorded run.
type Run struct {
	ID        string
	Driver    string
	StartedAt time.Time
	Duration  time.Duration
	Status    core.StepStatus
	Total     int
	Passed    int
	Failed    int
	Skipped   int
}

// Flow is one recorded flow of a run.
type Flow struct {
	Name     string
	File     string
	Status   core.StepStatus
	Duration time.Duration
	Error    string
}

// FlowStats aggregates the outcomes of one flow across runs.
type FlowStats struct {
	Name    string
	Runs    int
	Passed  int
	Failed  int
	LastRun time.Time
}

// Open opens (creating if needed) the history database at path.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 10000;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		driver TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS flows (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		file TEXT,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_flows_name ON flows(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a run and its flows in one transaction.
func (s *Store) Record(ctx context.Context, driver string, result *executor.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, driver, started_at, duration_ms, status, total, passed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ID, driver, result.StartedAt.UnixMilli(), result.Duration.Milliseconds(), result.Status.String(),
		result.TotalFlows, result.PassedFlows, result.FailedFlows, result.SkippedFlows)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", result.ID, err)
	}

	for i, fr := range result.FlowResults {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flows (run_id, position, name, file, status, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, result.ID, i, fr.Name, fr.File, fr.Status.String(), fr.Duration.Milliseconds(), fr.Error)
		if err != nil {
			return fmt.Errorf("history: insert flow %q: %w", fr.Name, err)
		}
	}
	return tx.Commit()
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, driver, started_at, duration_ms, status, total, passed, failed, skipped
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                Run
			startedMs, durMs int64
			status           string
		)
		if err := rows.Scan(&r.ID, &r.Driver, &startedMs, &durMs, &status,
			&r.Total, &r.Passed, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.Status = core.ParseStepStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Flows returns the flows of one run in execution order.
func (s *Store) Flows(ctx context.Context, runID string) ([]Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, file, status, duration_ms, error
		FROM flows
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		var (
			f      Flow
			status string
			durMs  int64
			file   sql.NullString
			errMsg sql.NullString
		)
		if err := rows.Scan(&f.Name, &file, &status, &durMs, &errMsg); err != nil {
			return nil, err
		}
		f.File = file.String
		f.Error = errMsg.String
		f.Status = core.ParseStepStatus(status)
		f.Duration = time.Duration(durMs) * time.Millisecond
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// Stats aggregates pass and fail counts per flow over the latest runs.
// Skipped flows are not counted.
func (s *Store) Stats(ctx context.Context, lastRuns int) ([]FlowStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.name,
			COUNT(*),
			SUM(CASE WHEN f.status IN (?, ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN f.status IN (?, ?) THEN 1 ELSE 0 END),
			MAX(r.started_at)
		FROM flows f
		JOIN runs r ON r.id = f.run_id
		WHERE r.id IN (SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?)
			AND f.status != ?
		GROUP BY f.name
		ORDER BY f.name
	`, core.StatusPassed.String(), core.StatusWarned.String(),
		core.StatusFailed.String(), core.StatusErrored.String(),
		lastRuns, core.StatusSkipped.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []FlowStats
	for rows.Next() {
		var (
			st     FlowStats
			lastMs int64
		)
		if err := rows.Scan(&st.Name, &st.Runs, &st.Passed, &st.Failed, &lastMs); err != nil {
			return nil, err
		}
		st.LastRun = time.UnixMilli(lastMs)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// FailureRate is the share of failed runs, 0 when the flow never ran.
func (st FlowStats) FailureRate() float64 {
	if st.Runs == 0 {
		return 0
	}
	return float64(st.Failed) / float64(st.Runs)
}
