// Package store provides SQLite-backed run history for insightminer.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"insightminer/internal/logging"
	"insightminer/internal/orchestrator"
)

// Run is one recorded orchestrator run.
type Run struct {
	ID                     string
	Input                  string
	StartedAt              time.Time
	FinishedAt             time.Time
	Total                  int
	FullSuccesses          int
	PartialSuccesses       int
	Failures               int
	Skipped                int
	WeightedCompletionRate float64
}

// TaskRecord is one task's outcome within a run.
type TaskRecord struct {
	RunID        string
	TaskID       string
	Question     string
	Outcome      string
	QualityScore int
	QualityLabel string
	Error        string
	DurationMS   int64
}

// Store provides access to the run-history database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		full_successes INTEGER NOT NULL,
		partial_successes INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		weighted_completion_rate REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_tasks (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		question TEXT NOT NULL,
		outcome TEXT NOT NULL,
		quality_score INTEGER NOT NULL,
		quality_label TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_tasks_run_id ON run_tasks(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists a finished run report with its per-task rows and
// returns the generated run id.
func (s *Store) RecordRun(input string, startedAt time.Time, report *orchestrator.RunReport) (string, error) {
	runID := uuid.New().String()
	finishedAt := startedAt.Add(report.Elapsed).UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, input, started_at, finished_at, total, full_successes,
			partial_successes, failures, skipped, weighted_completion_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, input, startedAt.UTC(), finishedAt, report.Total, report.FullSuccesses,
		report.PartialSuccesses, report.Failures, report.Skipped, report.WeightedCompletionRate,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, r := range report.Results {
		question := ""
		if r.State != nil {
			question = r.State.Task.Question
		}
		_, err = tx.Exec(
			`INSERT INTO run_tasks (run_id, task_id, question, outcome, quality_score,
				quality_label, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.TaskID, question, string(r.Outcome), r.QualityScore,
			r.QualityLabel, r.Err, r.Duration.Milliseconds(),
		)
		if err != nil {
			return "", fmt.Errorf("insert run task %s: %w", r.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	logging.Store("recorded run %s: %d tasks", runID, report.Total)
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, input, started_at, finished_at, total, full_successes,
			partial_successes, failures, skipped, weighted_completion_rate
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Input, &r.StartedAt, &r.FinishedAt, &r.Total,
			&r.FullSuccesses, &r.PartialSuccesses, &r.Failures, &r.Skipped,
			&r.WeightedCompletionRate); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunTasks returns per-task rows for one run, in insertion order.
func (s *Store) GetRunTasks(runID string) ([]TaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, task_id, question, outcome, quality_score, quality_label,
			error, duration_ms
		 FROM run_tasks WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var label, errMsg sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.TaskID, &rec.Question, &rec.Outcome,
			&rec.QualityScore, &label, &errMsg, &rec.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run task: %w", err)
		}
		rec.QualityLabel = label.String
		rec.Error = errMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
