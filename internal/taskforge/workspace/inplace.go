package workspace

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/gitutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

// inPlace runs tasks directly in the caller's working tree.
type inPlace struct {
	opts Options

	mu        sync.Mutex
	snapshots map[string]string
}

func newInPlace(opts Options) *inPlace {
	return &inPlace{opts: opts, snapshots: map[string]string{}}
}

func (w *inPlace) Mode() spec.WorkspaceMode { return spec.WorkspacePatch }

// Prepare records HEAD as the task's snapshot. The tree must be clean
// (outside the state dir) so that Revert loses nothing.
func (w *inPlace) Prepare(taskID string) error {
	dirty, err := gitutil.StatusPaths(w.opts.RepoRoot)
	if err != nil {
		return err
	}
	var blocking []string
	for _, p := range dirty {
		if !underAny(p, []string{w.opts.StateDir}) {
			blocking = append(blocking, p)
		}
	}
	if len(blocking) > 0 {
		return fmt.Errorf("workspace: working tree has uncommitted changes: %s", strings.Join(blocking, ", "))
	}
	head, err := gitutil.HeadSHA(w.opts.RepoRoot)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshots[taskID] = head
	w.mu.Unlock()
	w.opts.Logger.Debug("workspace prepared", zap.String("task_id", taskID), zap.String("snapshot", head))
	return nil
}

func (w *inPlace) snapshot(taskID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.snapshots[taskID]
	if !ok {
		return "", fmt.Errorf("workspace: task %q was not prepared", taskID)
	}
	return s, nil
}

func (w *inPlace) WorkingDir(string) string { return w.opts.RepoRoot }

func (w *inPlace) ChangedFiles(taskID string) ([]ChangedFile, error) {
	base, err := w.snapshot(taskID)
	if err != nil {
		return nil, err
	}
	return collectChanges(w.opts.RepoRoot, base, []string{w.opts.StateDir})
}

func (w *inPlace) EnforceContract(taskID string, c *spec.FileContract) ([]Violation, error) {
	changed, err := w.ChangedFiles(taskID)
	if err != nil {
		return nil, err
	}
	violations := EvaluateContract(changed, c)
	if len(violations) > 0 {
		if err := w.Revert(taskID); err != nil {
			return violations, err
		}
	}
	return violations, nil
}

// Checkpoint commits on the caller's branch. With nothing to commit it
// returns the current HEAD.
func (w *inPlace) Checkpoint(taskID, message string) (string, error) {
	return gitutil.CommitAll(w.opts.RepoRoot, checkpointMessage(taskID, message))
}

func (w *inPlace) Merge(string) error { return nil }

func (w *inPlace) Revert(taskID string) error {
	base, err := w.snapshot(taskID)
	if err != nil {
		return err
	}
	if err := gitutil.ResetHard(w.opts.RepoRoot, base); err != nil {
		return err
	}
	return gitutil.CleanUntracked(w.opts.RepoRoot, w.opts.StateDir+"/")
}

func (w *inPlace) Cleanup(string) error { return nil }
