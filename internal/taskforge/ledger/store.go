// Package ledger is the durable record of runs, task state and the
// append-only event log.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
)

// DefaultListLimit bounds ListEvents when the caller passes no limit.
const DefaultListLimit = 50

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrRunFinalized  = errors.New("ledger: run already finalized")
	errEmptyIdentity = errors.New("ledger: run id is required")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT,
	repo_root      TEXT NOT NULL DEFAULT '',
	backend_id     TEXT NOT NULL DEFAULT '',
	workspace_mode TEXT NOT NULL DEFAULT '',
	spec_hash      TEXT NOT NULL DEFAULT '',
	pid            INTEGER NOT NULL DEFAULT 0,
	exit_code      INTEGER NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS tasks (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	task_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	iteration   INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT,
	finished_at TEXT,
	last_error  TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, task_id)
);

CREATE TABLE IF NOT EXISTS ledger (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	task_id   TEXT,
	ts        TEXT NOT NULL,
	kind      TEXT NOT NULL,
	message   TEXT NOT NULL,
	data_json TEXT
);
CREATE INDEX IF NOT EXISTS ledger_run ON ledger(run_id, id);

CREATE TABLE IF NOT EXISTS issues (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	task_id    TEXT NOT NULL,
	iteration  INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	level      TEXT NOT NULL,
	file       TEXT NOT NULL DEFAULT '',
	line       INTEGER NOT NULL DEFAULT 0,
	message    TEXT NOT NULL,
	signature  TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS issues_run_task ON issues(run_id, task_id, iteration);

CREATE TABLE IF NOT EXISTS checkpoints (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	task_id    TEXT NOT NULL,
	ref        TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`

type Store struct {
	db *sqlx.DB
}

// DefaultPath is where a repository's ledger lives.
func DefaultPath(repoRoot, stateDir string) string {
	return filepath.Join(repoRoot, stateDir, "state.db")
}

// Open opens (creating if needed) the ledger database at path in WAL mode,
// so readers can inspect a run while it is being written.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errEmptyIdentity
	}
	if r.Status == "" {
		r.Status = RunActive
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, status, started_at, repo_root, backend_id, workspace_mode, spec_hash, pid)
		VALUES (:id, :status, :started_at, :repo_root, :backend_id, :workspace_mode, :spec_hash, :pid)`, r)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun moves an active run to its terminal status. A run is finalized
// exactly once; later calls return ErrRunFinalized.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, exitCode int, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, exit_code = ?, reason = ?
		WHERE id = ? AND status = ?`,
		status, Now(), exitCode, reason, runID, RunActive)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return ErrRunFinalized
	}
	return nil
}

const runColumns = `id, status, started_at, finished_at, repo_root, backend_id, workspace_mode, spec_hash, pid, exit_code, reason`

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRun returns the most recently started run, or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var r Run
	err := s.db.GetContext(ctx, &r, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) UpsertTask(ctx context.Context, row TaskRow) error {
	return upsertTask(ctx, s.db, row)
}

func upsertTask(ctx context.Context, ex sqlx.ExtContext, row TaskRow) error {
	row.UpdatedAt = Now()
	_, err := sqlx.NamedExecContext(ctx, ex, `
		INSERT INTO tasks (run_id, task_id, status, phase, iteration, started_at, finished_at, last_error, updated_at)
		VALUES (:run_id, :task_id, :status, :phase, :iteration, :started_at, :finished_at, :last_error, :updated_at)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			iteration = excluded.iteration,
			started_at = COALESCE(tasks.started_at, excluded.started_at),
			finished_at = excluded.finished_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("upsert task %s/%s: %w", row.RunID, row.TaskID, err)
	}
	return nil
}

// ListTasks returns the current task rows of a run ordered by task id.
func (s *Store) ListTasks(ctx context.Context, runID string) ([]TaskRow, error) {
	var rows []TaskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, task_id, status, phase, iteration, started_at, finished_at, last_error, updated_at
		FROM tasks WHERE run_id = ? ORDER BY task_id`, runID)
	return rows, err
}

// AppendEvent adds an event and returns its id. data is marshalled to JSON
// unless nil.
func (s *Store) AppendEvent(ctx context.Context, runID, taskID, kind, message string, data any) (int64, error) {
	return appendEvent(ctx, s.db, runID, taskID, kind, message, data)
}

func appendEvent(ctx context.Context, ex sqlx.ExecerContext, runID, taskID, kind, message string, data any) (int64, error) {
	var payload sql.NullString
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return 0, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	var task sql.NullString
	if taskID != "" {
		task = sql.NullString{String: taskID, Valid: true}
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO ledger (run_id, task_id, ts, kind, message, data_json) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, task, Now(), kind, message, payload)
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", kind, err)
	}
	return res.LastInsertId()
}

// Transition upserts a task row and appends the matching event atomically.
func (s *Store) Transition(ctx context.Context, row TaskRow, kind, message string, data any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertTask(ctx, tx, row); err != nil {
		return err
	}
	if _, err := appendEvent(ctx, tx, row.RunID, row.TaskID, kind, message, data); err != nil {
		return err
	}
	return tx.Commit()
}

const eventColumns = `id, run_id, COALESCE(task_id, '') AS task_id, ts, kind, message, COALESCE(data_json, '') AS data_json`

// ListEvents returns up to limit of the most recent events of a run, in
// chronological order.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var events []Event
	if err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM ledger WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// EventsAfter returns every event of a run with id greater than afterID,
// oldest first.
func (s *Store) EventsAfter(ctx context.Context, runID string, afterID int64) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM ledger WHERE run_id = ? AND id > ? ORDER BY id`, runID, afterID)
	return events, err
}

func (s *Store) RecordIssues(ctx context.Context, runID, taskID string, iteration int, issues []issue.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := Now()
	for _, is := range issues {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (run_id, task_id, iteration, kind, level, file, line, message, signature, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, taskID, iteration, is.Kind, string(is.Level), is.File, is.Line, is.Message, issue.Signature(is), now); err != nil {
			return fmt.Errorf("record issue: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListIssues(ctx context.Context, runID, taskID string) ([]IssueRow, error) {
	var rows []IssueRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, task_id, iteration, kind, level, file, line, message, signature, created_at
		FROM issues WHERE run_id = ? AND task_id = ? ORDER BY id`, runID, taskID)
	return rows, err
}

func (s *Store) RecordCheckpoint(ctx context.Context, runID, taskID, ref, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, task_id, ref, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, taskID, ref, message, Now())
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

func (s *Store) ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	var rows []Checkpoint
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, task_id, ref, message, created_at FROM checkpoints WHERE run_id = ? ORDER BY id`, runID)
	return rows, err
}
