package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/gitutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

// MergeError means a task branch could not be integrated. The caller's
// branch is left as it was before the attempt; the task branch is kept.
type MergeError struct {
	TaskID string
	Branch string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge of task %s (branch %s) failed; resolve manually: %v", e.TaskID, e.Branch, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ErrStagedChanges means the caller's index holds staged edits.
var ErrStagedChanges = errors.New("caller's working tree has staged changes")

type worktree struct {
	dir    string
	branch string
	base   string
}

// isolated runs each task in its own worktree on a fresh branch.
type isolated struct {
	opts Options

	mu    sync.Mutex
	tasks map[string]worktree
}

func newIsolated(opts Options) *isolated {
	return &isolated{opts: opts, tasks: map[string]worktree{}}
}

func (w *isolated) Mode() spec.WorkspaceMode { return spec.WorkspaceWorktree }

func (w *isolated) Prepare(taskID string) error {
	base, err := gitutil.HeadSHA(w.opts.RepoRoot)
	if err != nil {
		return err
	}
	suffix := strings.ToLower(ulid.Make().String())
	wt := worktree{
		dir:    filepath.Join(w.opts.RepoRoot, filepath.FromSlash(w.opts.StateDir), "worktrees", sanitize(taskID)+"-"+suffix),
		branch: fmt.Sprintf("%s/%s/%s", w.opts.BranchPrefix, sanitize(taskID), suffix),
		base:   base,
	}
	if err := gitutil.AddWorktree(w.opts.RepoRoot, wt.dir, wt.branch, base); err != nil {
		return err
	}
	w.mu.Lock()
	w.tasks[taskID] = wt
	w.mu.Unlock()
	w.opts.Logger.Debug("worktree prepared",
		zap.String("task_id", taskID),
		zap.String("branch", wt.branch),
		zap.String("dir", wt.dir),
	)
	return nil
}

func (w *isolated) get(taskID string) (worktree, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wt, ok := w.tasks[taskID]
	if !ok {
		return worktree{}, fmt.Errorf("workspace: task %q was not prepared", taskID)
	}
	return wt, nil
}

func (w *isolated) WorkingDir(taskID string) string {
	if wt, err := w.get(taskID); err == nil {
		return wt.dir
	}
	return w.opts.RepoRoot
}

func (w *isolated) ChangedFiles(taskID string) ([]ChangedFile, error) {
	wt, err := w.get(taskID)
	if err != nil {
		return nil, err
	}
	return collectChanges(wt.dir, wt.base, []string{w.opts.StateDir})
}

func (w *isolated) EnforceContract(taskID string, c *spec.FileContract) ([]Violation, error) {
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

func (w *isolated) Checkpoint(taskID, message string) (string, error) {
	wt, err := w.get(taskID)
	if err != nil {
		return "", err
	}
	return gitutil.CommitAll(wt.dir, checkpointMessage(taskID, message))
}

// Merge squashes the task branch onto the caller's current branch as one
// commit. The caller's index must be empty: anything staged there would be
// folded into the task's commit.
func (w *isolated) Merge(taskID string) error {
	wt, err := w.get(taskID)
	if err != nil {
		return err
	}
	staged, err := gitutil.HasStagedChanges(w.opts.RepoRoot)
	if err != nil {
		return &MergeError{TaskID: taskID, Branch: wt.branch, Err: err}
	}
	if staged {
		return &MergeError{TaskID: taskID, Branch: wt.branch, Err: ErrStagedChanges}
	}
	if err := gitutil.MergeSquash(w.opts.RepoRoot, wt.branch); err != nil {
		if abortErr := gitutil.AbortMerge(w.opts.RepoRoot); abortErr != nil {
			w.opts.Logger.Warn("abort merge failed", zap.String("task_id", taskID), zap.Error(abortErr))
		}
		return &MergeError{TaskID: taskID, Branch: wt.branch, Err: err}
	}
	if _, err := gitutil.CommitStaged(w.opts.RepoRoot, checkpointMessage(taskID, "merge")); err != nil {
		return &MergeError{TaskID: taskID, Branch: wt.branch, Err: err}
	}
	return nil
}

func (w *isolated) Revert(taskID string) error {
	wt, err := w.get(taskID)
	if err != nil {
		return err
	}
	if err := gitutil.ResetHard(wt.dir, wt.base); err != nil {
		return err
	}
	return gitutil.CleanUntracked(wt.dir)
}

// Cleanup removes the worktree and branch. Failures are logged only.
func (w *isolated) Cleanup(taskID string) error {
	wt, err := w.get(taskID)
	if err != nil {
		return nil
	}
	if err := gitutil.RemoveWorktree(w.opts.RepoRoot, wt.dir); err != nil {
		w.opts.Logger.Warn("remove worktree failed", zap.String("task_id", taskID), zap.Error(err))
	}
	if err := gitutil.DeleteBranch(w.opts.RepoRoot, wt.branch); err != nil {
		w.opts.Logger.Warn("delete branch failed", zap.String("task_id", taskID), zap.Error(err))
	}
	w.mu.Lock()
	delete(w.tasks, taskID)
	w.mu.Unlock()
	return nil
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "task"
	}
	return b.String()
}
