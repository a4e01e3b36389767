// Package ledger keeps the run history: one row per pipeline run, one per
// stage result and one per LLM call.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"patternpress/internal/logging"
	"patternpress/internal/perception"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one pipeline invocation.
type Run struct {
	ID         string
	Slug       string
	KernelPath string
	Pipeline   string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// StageRecord is one stage result of a run.
type StageRecord struct {
	RunID    string
	Stage    string
	Status   string
	Duration time.Duration
	Warnings int
	Err      string
	At       time.Time
}

// Ledger is the SQLite-backed run history.
type Ledger struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer; WAL still lets status readers in.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, dbPath: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	logging.StoreDebug("Ledger opened at %s", path)
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.dbPath
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		kernel_path TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_slug ON runs(slug);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS stages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		warnings INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_stages_run ON stages(run_id);

	-- LLM calls, retries included
	CREATE TABLE IF NOT EXISTS traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		stage TEXT NOT NULL,
		prompt_len INTEGER NOT NULL,
		response_len INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_run ON traces(run_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// StartRun inserts a run in the running state.
func (l *Ledger) StartRun(ctx context.Context, r Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, slug, kernel_path, pipeline, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Slug, r.KernelPath, r.Pipeline, r.Status, r.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, at.UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordStage appends a stage result.
func (l *Ledger) RecordStage(ctx context.Context, s StageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stages (run_id, stage, status, duration_ms, warnings, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.RunID, s.Stage, s.Status, s.Duration.Milliseconds(), s.Warnings, nullString(s.Err), s.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to record stage %s: %w", s.Stage, err)
	}
	return nil
}

// RecordTrace implements perception.TraceStore.
func (l *Ledger) RecordTrace(ctx context.Context, t perception.Trace) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO traces (run_id, slug, stage, prompt_len, response_len, duration_ms, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.RunID, t.Slug, t.Stage, t.PromptLen, t.ResponseLen, t.Duration.Milliseconds(), nullString(t.Err), t.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to record trace: %w", err)
	}
	return nil
}

// History returns runs newest first. An empty slug lists every book. A
// limit of zero or less means no limit.
func (l *Ledger) History(ctx context.Context, slug string, limit int) ([]Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT id, slug, kernel_path, pipeline, status, started_at, finished_at FROM runs`
	var args []any
	if slug != "" {
		query += ` WHERE slug = ?`
		args = append(args, slug)
	}
	query += ` ORDER BY started_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Slug, &r.KernelPath, &r.Pipeline, &r.Status, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Stages returns the stage results of a run in the order recorded.
func (l *Ledger) Stages(ctx context.Context, runID string) ([]StageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, stage, status, duration_ms, warnings, error, at
		FROM stages WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var out []StageRecord
	for rows.Next() {
		var s StageRecord
		var ms int64
		var errText sql.NullString
		if err := rows.Scan(&s.RunID, &s.Stage, &s.Status, &ms, &s.Warnings, &errText, &s.At); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		s.Err = errText.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Traces returns the LLM calls of a run in the order recorded.
func (l *Ledger) Traces(ctx context.Context, runID string) ([]perception.Trace, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, slug, stage, prompt_len, response_len, duration_ms, error, at
		FROM traces WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var out []perception.Trace
	for rows.Next() {
		var t perception.Trace
		var ms int64
		var errText sql.NullString
		if err := rows.Scan(&t.RunID, &t.Slug, &t.Stage, &t.PromptLen, &t.ResponseLen, &ms, &errText, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		t.Duration = time.Duration(ms) * time.Millisecond
		t.Err = errText.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
