package engine

import (
	"fmt"

	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

// ExitCode is the process exit status a run maps to.
type ExitCode int

const (
	ExitSuccess ExitCode = 0
	// ExitInternal covers ledger failures and cancellation.
	ExitInternal ExitCode = 1
	// ExitBudget is a simple budget limit or a task hard cap.
	ExitBudget ExitCode = 2
	// ExitStuck is a stuck loop or exhausted iterations.
	ExitStuck ExitCode = 3
	// ExitConfig is an unknown task, invalid graph, setup or workspace failure.
	ExitConfig  ExitCode = 4
	ExitBackend ExitCode = 5
)

// RunStatus is the terminal run status an exit code maps to.
func (c ExitCode) RunStatus() ledger.RunStatus {
	switch c {
	case ExitSuccess:
		return ledger.RunSuccess
	case ExitBudget, ExitStuck:
		return ledger.RunStopped
	default:
		return ledger.RunError
	}
}

// Outcome is the result of a run.
type Outcome struct {
	// RunID is empty when the run failed before a ledger row was created.
	RunID    string
	ExitCode ExitCode
	Status   ledger.RunStatus
	Reason   string
	// FailedTask is the task whose outcome stopped the run.
	FailedTask string
	Tasks      []TaskOutcome
}

type TaskOutcome struct {
	TaskID     string
	Status     ledger.TaskStatus
	Iterations int
	ExitCode   ExitCode
	Reason     string
}

// ConfigError is returned for problems detected before any run row exists.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration error: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }
