// Package history keeps a local record of past sweep runs and their
// findings in SQLite. History is best-effort bookkeeping: callers log
// and continue when any of it fails, a sweep never depends on it.
package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"icehunt/internal/errors"
	"icehunt/internal/logging"
	"icehunt/internal/sweep"
)

const dbFileName = "history.db"

// Store is a handle on the run-history database.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// Open opens or creates the history database under workDir/.icehunt/.
func Open(workDir string, logger *logging.Logger) (*Store, error) {
	stateDir := filepath.Join(workDir, ".icehunt")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, errors.New(errors.HistoryUnavailable, "failed to create state directory", err)
	}
	dbPath := filepath.Join(stateDir, dbFileName)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.New(errors.HistoryUnavailable, "failed to open history database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL", // Balance between safety and performance
		"PRAGMA foreign_keys=ON",    // Enable foreign key constraints
		"PRAGMA busy_timeout=5000",  // Wait up to 5 seconds on lock
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.New(errors.HistoryUnavailable, "failed to set pragma", err)
		}
	}

	s := &Store{conn: conn, logger: logger, dbPath: dbPath}
	if err := s.initializeSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) initializeSchema() error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS runs (
				id             TEXT PRIMARY KEY,
				started_at     TEXT NOT NULL,
				finished_at    TEXT,
				root           TEXT NOT NULL,
				toolchain      TEXT NOT NULL,
				total          INTEGER NOT NULL DEFAULT 0,
				skipped        INTEGER NOT NULL DEFAULT 0,
				processed      INTEGER NOT NULL DEFAULT 0,
				successes      INTEGER NOT NULL DEFAULT 0,
				compile_errors INTEGER NOT NULL DEFAULT 0,
				timeouts       INTEGER NOT NULL DEFAULT 0,
				ice_found      INTEGER NOT NULL DEFAULT 0,
				spawn_failures INTEGER NOT NULL DEFAULT 0,
				duration_ms    INTEGER NOT NULL DEFAULT 0
			)
		`); err != nil {
			return errors.New(errors.HistoryUnavailable, "failed to create runs table", err)
		}
		if _, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS findings (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id    TEXT NOT NULL REFERENCES runs(id),
				rel_path  TEXT NOT NULL,
				signature TEXT NOT NULL,
				found_at  TEXT NOT NULL
			)
		`); err != nil {
			return errors.New(errors.HistoryUnavailable, "failed to create findings table", err)
		}
		if _, err := tx.Exec(`
			CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id)
		`); err != nil {
			return errors.New(errors.HistoryUnavailable, "failed to create findings index", err)
		}
		return nil
	})
}

func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return errors.New(errors.HistoryUnavailable, "failed to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.HistoryUnavailable, "failed to commit transaction", err)
	}
	return nil
}

// BeginRun records the start of a sweep and returns its run ID.
func (s *Store) BeginRun(root, toolchain string) (string, error) {
	runID := uuid.New().String()
	_, err := s.conn.Exec(
		`INSERT INTO runs (id, started_at, root, toolchain) VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), root, toolchain,
	)
	if err != nil {
		return "", errors.New(errors.HistoryUnavailable, "failed to record run start", err)
	}
	return runID, nil
}

// RecordFinding stores one archived crash for the given run.
func (s *Store) RecordFinding(runID, relPath, signature string) error {
	_, err := s.conn.Exec(
		`INSERT INTO findings (run_id, rel_path, signature, found_at) VALUES (?, ?, ?, ?)`,
		runID, relPath, signature, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.New(errors.HistoryUnavailable, "failed to record finding", err)
	}
	return nil
}

// FinishRun stamps the run with its final statistics.
func (s *Store) FinishRun(runID string, stats *sweep.Stats) error {
	_, err := s.conn.Exec(`
		UPDATE runs SET
			finished_at = ?, total = ?, skipped = ?, processed = ?,
			successes = ?, compile_errors = ?, timeouts = ?,
			ice_found = ?, spawn_failures = ?, duration_ms = ?
		WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		stats.Total, stats.Skipped, stats.Processed,
		stats.Successes, stats.CompileErrors, stats.Timeouts,
		stats.ICEFound, stats.SpawnFailures, stats.Duration.Milliseconds(),
		runID,
	)
	if err != nil {
		return errors.New(errors.HistoryUnavailable, "failed to record run completion", err)
	}
	return nil
}

// Run is one recorded sweep.
type Run struct {
	ID            string
	StartedAt     string
	FinishedAt    string
	Root          string
	Toolchain     string
	Total         int
	Skipped       int
	Processed     int
	Successes     int
	CompileErrors int
	Timeouts      int
	ICEFound      int
	SpawnFailures int
	DurationMS    int64
}

// Finding is one recorded crash.
type Finding struct {
	RunID     string
	RelPath   string
	Signature string
	FoundAt   string
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(`
		SELECT id, started_at, COALESCE(finished_at, ''), root, toolchain,
			total, skipped, processed, successes, compile_errors,
			timeouts, ice_found, spawn_failures, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.New(errors.HistoryUnavailable, "failed to query runs", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.FinishedAt, &r.Root, &r.Toolchain,
			&r.Total, &r.Skipped, &r.Processed, &r.Successes, &r.CompileErrors,
			&r.Timeouts, &r.ICEFound, &r.SpawnFailures, &r.DurationMS,
		); err != nil {
			return nil, errors.New(errors.HistoryUnavailable, "failed to scan run", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Findings returns every recorded crash, newest first. An empty runID
// returns findings across all runs.
func (s *Store) Findings(runID string) ([]Finding, error) {
	query := `SELECT run_id, rel_path, signature, found_at FROM findings`
	var args []interface{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY found_at DESC`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, errors.New(errors.HistoryUnavailable, "failed to query findings", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.RunID, &f.RelPath, &f.Signature, &f.FoundAt); err != nil {
			return nil, errors.New(errors.HistoryUnavailable, "failed to scan finding", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// Totals aggregates lifetime counters across all recorded runs.
type Totals struct {
	Runs      int
	Processed int
	ICEFound  int
}

// LifetimeTotals sums headline counters over every completed run.
func (s *Store) LifetimeTotals() (*Totals, error) {
	row := s.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(processed), 0), COALESCE(SUM(ice_found), 0)
		FROM runs`)
	var t Totals
	if err := row.Scan(&t.Runs, &t.Processed, &t.ICEFound); err != nil {
		return nil, errors.New(errors.HistoryUnavailable, "failed to aggregate runs", err)
	}
	return &t, nil
}
