// Package workspace prepares, inspects, checkpoints and rolls back the
// directory a task runs in.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/gitutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

// DefaultStateDir is the repo-relative directory holding ledger, logs,
// artifacts and isolated worktrees.
const DefaultStateDir = ".taskforge"

type ChangedFile struct {
	Path    string `json:"file"`
	IsNew   bool   `json:"is_new"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Manager is implemented by the in-place and isolated strategies. All
// methods are keyed by task id.
type Manager interface {
	Mode() spec.WorkspaceMode
	Prepare(taskID string) error
	WorkingDir(taskID string) string
	ChangedFiles(taskID string) ([]ChangedFile, error)
	// EnforceContract evaluates changed files against c and reverts the
	// workspace when anything violates it.
	EnforceContract(taskID string, c *spec.FileContract) ([]Violation, error)
	Checkpoint(taskID, message string) (string, error)
	Merge(taskID string) error
	Revert(taskID string) error
	Cleanup(taskID string) error
}

type Options struct {
	RepoRoot string
	// StateDir is relative to RepoRoot; changes under it are never reported
	// or reverted.
	StateDir     string
	BranchPrefix string
	Logger       *zap.Logger
}

func (o *Options) normalize() error {
	if strings.TrimSpace(o.RepoRoot) == "" {
		return fmt.Errorf("workspace: repo root is required")
	}
	abs, err := filepath.Abs(o.RepoRoot)
	if err != nil {
		return err
	}
	o.RepoRoot = abs
	if o.StateDir == "" {
		o.StateDir = DefaultStateDir
	}
	o.StateDir = filepath.ToSlash(filepath.Clean(o.StateDir))
	if o.BranchPrefix == "" {
		o.BranchPrefix = "taskforge"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if !gitutil.IsRepo(o.RepoRoot) {
		return fmt.Errorf("workspace: %s is not a git repository", o.RepoRoot)
	}
	return nil
}

// New returns the strategy for mode.
func New(mode spec.WorkspaceMode, opts Options) (Manager, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if err := ignoreStateDir(opts); err != nil {
		return nil, err
	}
	switch mode {
	case spec.WorkspacePatch, "":
		return newInPlace(opts), nil
	case spec.WorkspaceWorktree:
		return newIsolated(opts), nil
	default:
		return nil, fmt.Errorf("workspace: unsupported mode %q", mode)
	}
}

// ignoreStateDir drops a catch-all .gitignore into the state dir so that
// ledger files and nested worktrees never show up as changes or get staged
// by a checkpoint.
func ignoreStateDir(opts Options) error {
	dir := filepath.Join(opts.RepoRoot, filepath.FromSlash(opts.StateDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: create state dir: %w", err)
	}
	p := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.WriteFile(p, []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", p, err)
	}
	return nil
}

func checkpointMessage(taskID, message string) string {
	return fmt.Sprintf("[taskforge] %s: %s", taskID, message)
}

// collectChanges diffs dir against base and adds untracked files as new.
// Paths under any of the skip prefixes are dropped.
func collectChanges(dir, base string, skip []string) ([]ChangedFile, error) {
	diff, err := gitutil.DiffNameStatus(dir, base)
	if err != nil {
		return nil, err
	}
	untracked, err := gitutil.UntrackedFiles(dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []ChangedFile
	add := func(cf ChangedFile) {
		if seen[cf.Path] || underAny(cf.Path, skip) {
			return
		}
		seen[cf.Path] = true
		out = append(out, cf)
	}
	for _, c := range diff {
		add(ChangedFile{
			Path:    c.Path,
			IsNew:   strings.HasPrefix(c.Status, "A"),
			Deleted: strings.HasPrefix(c.Status, "D"),
		})
	}
	for _, f := range untracked {
		add(ChangedFile{Path: f, IsNew: true})
	}
	return out, nil
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
