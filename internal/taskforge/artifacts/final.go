package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

// FinalOutcome is written once when a run ends.
type FinalOutcome struct {
	Timestamp time.Time        `json:"timestamp"`
	Status    ledger.RunStatus `json:"status"`
	RunID     string           `json:"run_id"`
	ExitCode  int              `json:"exit_code"`

	FinalGitCommitSHA string `json:"final_git_commit_sha,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	FailedTask        string `json:"failed_task,omitempty"`

	Spend ledger.Spend `json:"spend"`
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	b, err := json.MarshalIndent(fo, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, append(b, '\n'))
}
