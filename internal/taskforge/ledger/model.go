package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RunStatus string

const (
	RunActive  RunStatus = "active"
	RunSuccess RunStatus = "success"
	RunStopped RunStatus = "stopped"
	RunError   RunStatus = "error"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskBlocked TaskStatus = "blocked"
	TaskError   TaskStatus = "error"
)

type Phase string

const (
	PhasePlan       Phase = "PLAN"
	PhasePrep       Phase = "PREP"
	PhaseExec       Phase = "EXEC"
	PhaseValidate   Phase = "VALIDATE"
	PhaseDiagnose   Phase = "DIAGNOSE"
	PhaseRepair     Phase = "REPAIR"
	PhaseCheckpoint Phase = "CHECKPOINT"
	PhaseDone       Phase = "DONE"
)

const tsLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp stores times as fixed-width UTC text so that ordering by the
// column matches chronological order. The zero value is NULL.
type Timestamp struct {
	time.Time
}

func Now() Timestamp { return Timestamp{time.Now().UTC()} }

func (t Timestamp) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(tsLayout), nil
}

func (t *Timestamp) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = x.UTC()
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	default:
		return fmt.Errorf("ledger: cannot scan %T into Timestamp", v)
	}
}

func (t *Timestamp) parse(s string) error {
	p, err := time.Parse(tsLayout, s)
	if err != nil {
		p, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
	}
	t.Time = p.UTC()
	return nil
}

type Run struct {
	ID            string    `db:"id" json:"id"`
	Status        RunStatus `db:"status" json:"status"`
	StartedAt     Timestamp `db:"started_at" json:"started_at"`
	FinishedAt    Timestamp `db:"finished_at" json:"finished_at"`
	RepoRoot      string    `db:"repo_root" json:"repo_root"`
	BackendID     string    `db:"backend_id" json:"backend_id"`
	WorkspaceMode string    `db:"workspace_mode" json:"workspace_mode"`
	SpecHash      string    `db:"spec_hash" json:"spec_hash,omitempty"`
	PID           int       `db:"pid" json:"pid"`
	ExitCode      int       `db:"exit_code" json:"exit_code"`
	Reason        string    `db:"reason" json:"reason,omitempty"`
}

type TaskRow struct {
	RunID      string     `db:"run_id" json:"run_id"`
	TaskID     string     `db:"task_id" json:"task_id"`
	Status     TaskStatus `db:"status" json:"status"`
	Phase      Phase      `db:"phase" json:"phase"`
	Iteration  int        `db:"iteration" json:"iteration"`
	StartedAt  Timestamp  `db:"started_at" json:"started_at"`
	FinishedAt Timestamp  `db:"finished_at" json:"finished_at"`
	LastError  string     `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt  Timestamp  `db:"updated_at" json:"updated_at"`
}

type Event struct {
	ID       int64     `db:"id" json:"id"`
	RunID    string    `db:"run_id" json:"run_id"`
	TaskID   string    `db:"task_id" json:"task_id,omitempty"`
	TS       Timestamp `db:"ts" json:"ts"`
	Kind     string    `db:"kind" json:"kind"`
	Message  string    `db:"message" json:"message"`
	DataJSON string    `db:"data_json" json:"data,omitempty"`
}

// Decode unmarshals the structured payload into v. An event without a
// payload leaves v untouched.
func (e Event) Decode(v any) error {
	if e.DataJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(e.DataJSON), v)
}

type IssueRow struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	TaskID    string    `db:"task_id"`
	Iteration int       `db:"iteration"`
	Kind      string    `db:"kind"`
	Level     string    `db:"level"`
	File      string    `db:"file"`
	Line      int       `db:"line"`
	Message   string    `db:"message"`
	Signature string    `db:"signature"`
	CreatedAt Timestamp `db:"created_at"`
}

type Checkpoint struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	TaskID    string    `db:"task_id"`
	Ref       string    `db:"ref"`
	Message   string    `db:"message"`
	CreatedAt Timestamp `db:"created_at"`
}
