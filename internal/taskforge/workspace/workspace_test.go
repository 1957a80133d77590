package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
	"github.com/danshapiro/taskforge/internal/taskforge/testutil"
)

func newManager(t *testing.T, mode spec.WorkspaceMode) (Manager, string) {
	t.Helper()
	repo := testutil.InitRepo(t)
	m, err := New(mode, Options{RepoRoot: repo})
	require.NoError(t, err)
	return m, repo
}

func TestNew_RejectsNonRepo(t *testing.T) {
	_, err := New(spec.WorkspacePatch, Options{RepoRoot: t.TempDir()})
	require.Error(t, err)
	_, err = New("weird", Options{RepoRoot: testutil.InitRepo(t)})
	require.Error(t, err)
}

func TestInPlace_ChangedFilesIgnoresStateDir(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	testutil.WriteFile(t, repo, ".taskforge/state.db", "db")
	require.NoError(t, m.Prepare("t1"))
	assert.Equal(t, repo, m.WorkingDir("t1"))

	testutil.WriteFile(t, repo, "initial.txt", "edited")
	testutil.WriteFile(t, repo, "added.txt", "new")
	testutil.WriteFile(t, repo, ".taskforge/logs/x.log", "log")

	changed, err := m.ChangedFiles("t1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ChangedFile{
		{Path: "initial.txt"},
		{Path: "added.txt", IsNew: true},
	}, changed)
}

func TestInPlace_PrepareRequiresCleanTree(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	testutil.WriteFile(t, repo, "initial.txt", "dirty")
	err := m.Prepare("t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial.txt")
}

func TestInPlace_RevertRestoresSnapshotExactly(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	testutil.WriteFile(t, repo, ".taskforge/state.db", "db")
	require.NoError(t, m.Prepare("t1"))

	testutil.WriteFile(t, repo, "initial.txt", "edited")
	testutil.WriteFile(t, repo, "nested/dir/new.txt", "new")
	require.NoError(t, os.Remove(filepath.Join(repo, "initial.txt")))

	require.NoError(t, m.Revert("t1"))
	assert.Equal(t, "hello", testutil.ReadFile(t, repo, "initial.txt"))
	assert.False(t, testutil.Exists(repo, "nested"))
	assert.True(t, testutil.Exists(repo, ".taskforge/state.db"), "state dir must survive revert")
	assert.Empty(t, testutil.Git(t, repo, "status", "--porcelain", "--", ":!.taskforge"))
}

func TestInPlace_EnforceContractRevertsOnViolation(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	require.NoError(t, m.Prepare("t1"))
	testutil.WriteFile(t, repo, "src/ok.go", "package src")
	testutil.WriteFile(t, repo, "secret.env", "KEY=1")

	v, err := m.EnforceContract("t1", &spec.FileContract{Forbidden: []string{"*.env"}})
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, ReasonForbidden, v[0].Reason)
	assert.False(t, testutil.Exists(repo, "secret.env"))
	assert.False(t, testutil.Exists(repo, "src/ok.go"))
}

func TestInPlace_EnforceContractKeepsCompliantWork(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	require.NoError(t, m.Prepare("t1"))
	testutil.WriteFile(t, repo, "src/ok.go", "package src")

	v, err := m.EnforceContract("t1", &spec.FileContract{Allowed: []string{"src/**"}})
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.True(t, testutil.Exists(repo, "src/ok.go"))
}

func TestInPlace_CheckpointIsIdempotent(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	require.NoError(t, m.Prepare("t1"))
	testutil.WriteFile(t, repo, "feature.txt", "f")

	ref1, err := m.Checkpoint("t1", "done")
	require.NoError(t, err)
	ref2, err := m.Checkpoint("t1", "done")
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
	assert.Len(t, ref1, 40)
	assert.Contains(t, testutil.Git(t, repo, "log", "-1", "--format=%s"), "[taskforge] t1: done")
	require.NoError(t, m.Merge("t1"))
	require.NoError(t, m.Cleanup("t1"))
}

func TestInPlace_UnpreparedTask(t *testing.T) {
	m, _ := newManager(t, spec.WorkspacePatch)
	_, err := m.ChangedFiles("ghost")
	require.Error(t, err)
	require.Error(t, m.Revert("ghost"))
}

func TestIsolated_LifecycleSquashesIntoCallerBranch(t *testing.T) {
	m, repo := newManager(t, spec.WorkspaceWorktree)
	base := testutil.Git(t, repo, "rev-parse", "HEAD")
	require.NoError(t, m.Prepare("task/1"))
	dir := m.WorkingDir("task/1")
	assert.NotEqual(t, repo, dir)
	assert.True(t, strings.HasPrefix(dir, filepath.Join(repo, ".taskforge", "worktrees")))

	testutil.WriteFile(t, dir, "a.txt", "a")
	_, err := m.Checkpoint("task/1", "iteration 1")
	require.NoError(t, err)
	testutil.WriteFile(t, dir, "b.txt", "b")

	changed, err := m.ChangedFiles("task/1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ChangedFile{{Path: "a.txt", IsNew: true}, {Path: "b.txt", IsNew: true}}, changed)
	assert.False(t, testutil.Exists(repo, "a.txt"), "primary tree untouched before merge")

	_, err = m.Checkpoint("task/1", "done")
	require.NoError(t, err)
	require.NoError(t, m.Merge("task/1"))
	assert.Equal(t, "a", testutil.ReadFile(t, repo, "a.txt"))
	assert.Equal(t, "b", testutil.ReadFile(t, repo, "b.txt"))
	assert.Equal(t, "1", testutil.Git(t, repo, "rev-list", "--count", base+"..HEAD"))

	require.NoError(t, m.Cleanup("task/1"))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, testutil.Git(t, repo, "branch", "--list", "taskforge/*"))
	assert.Equal(t, repo, m.WorkingDir("task/1"))
	require.NoError(t, m.Cleanup("task/1"), "cleanup twice is harmless")
}

func TestIsolated_RevertAndContract(t *testing.T) {
	m, _ := newManager(t, spec.WorkspaceWorktree)
	require.NoError(t, m.Prepare("t1"))
	dir := m.WorkingDir("t1")
	testutil.WriteFile(t, dir, "initial.txt", "edited")
	testutil.WriteFile(t, dir, "extra.txt", "x")

	v, err := m.EnforceContract("t1", &spec.FileContract{AllowNewFiles: boolp(false)})
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, "extra.txt", v[0].File)
	assert.Equal(t, "hello", testutil.ReadFile(t, dir, "initial.txt"))
	assert.False(t, testutil.Exists(dir, "extra.txt"))
	require.NoError(t, m.Cleanup("t1"))
}

func TestIsolated_MergeConflictIsReported(t *testing.T) {
	m, repo := newManager(t, spec.WorkspaceWorktree)
	require.NoError(t, m.Prepare("t1"))
	dir := m.WorkingDir("t1")
	testutil.WriteFile(t, dir, "initial.txt", "from task")
	_, err := m.Checkpoint("t1", "done")
	require.NoError(t, err)

	testutil.WriteFile(t, repo, "initial.txt", "from caller")
	testutil.Git(t, repo, "commit", "-am", "diverge")

	err = m.Merge("t1")
	var merr *MergeError
	require.True(t, errors.As(err, &merr), "err=%v", err)
	assert.Equal(t, "t1", merr.TaskID)
	assert.Equal(t, "from caller", testutil.ReadFile(t, repo, "initial.txt"))
	require.NoError(t, m.Cleanup("t1"))
}

func TestInPlace_CheckpointNeverStagesStateDir(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	assert.True(t, testutil.Exists(repo, ".taskforge/.gitignore"))
	testutil.WriteFile(t, repo, ".taskforge/state.db", "db")
	require.NoError(t, m.Prepare("t1"))
	testutil.WriteFile(t, repo, "feature.txt", "x")

	_, err := m.Checkpoint("t1", "done")
	require.NoError(t, err)
	assert.Equal(t, "feature.txt", testutil.Git(t, repo, "show", "--name-only", "--format=", "HEAD"))
	assert.Empty(t, testutil.Git(t, repo, "ls-files", ".taskforge"))
}

func TestIsolated_MergeRefusesCallerStagedChanges(t *testing.T) {
	m, repo := newManager(t, spec.WorkspaceWorktree)
	require.NoError(t, m.Prepare("t1"))
	testutil.WriteFile(t, m.WorkingDir("t1"), "task.txt", "task")
	_, err := m.Checkpoint("t1", "done")
	require.NoError(t, err)
	head := testutil.Git(t, repo, "rev-parse", "HEAD")

	testutil.WriteFile(t, repo, "user.txt", "mine")
	testutil.Git(t, repo, "add", "user.txt")

	err = m.Merge("t1")
	var merr *MergeError
	require.True(t, errors.As(err, &merr), "err=%v", err)
	assert.ErrorIs(t, err, ErrStagedChanges)
	assert.Equal(t, head, testutil.Git(t, repo, "rev-parse", "HEAD"))
	assert.False(t, testutil.Exists(repo, "task.txt"))
	assert.Equal(t, "A  user.txt", testutil.Git(t, repo, "status", "--porcelain", "--", "user.txt"))

	// Unstaged edits in the caller's tree stay out of the task commit.
	testutil.Git(t, repo, "reset", "-q", "user.txt")
	require.NoError(t, m.Merge("t1"))
	assert.Equal(t, "task.txt", testutil.Git(t, repo, "show", "--name-only", "--format=", "HEAD"))
	assert.Equal(t, "?? user.txt", testutil.Git(t, repo, "status", "--porcelain", "--", "user.txt"))
	require.NoError(t, m.Cleanup("t1"))
}

func TestInPlace_ContractMatchesNonASCIIPaths(t *testing.T) {
	m, repo := newManager(t, spec.WorkspacePatch)
	require.NoError(t, m.Prepare("t1"))
	names := []string{"src/café.txt", "src/tab\there.txt", `src/"quoted".txt`}
	for _, n := range names {
		testutil.WriteFile(t, repo, n, "x")
	}

	changed, err := m.ChangedFiles("t1")
	require.NoError(t, err)
	var paths []string
	for _, c := range changed {
		paths = append(paths, c.Path)
	}
	assert.ElementsMatch(t, names, paths)

	v, err := m.EnforceContract("t1", &spec.FileContract{Allowed: []string{"src/**"}})
	require.NoError(t, err)
	assert.Empty(t, v)
	for _, n := range names {
		assert.True(t, testutil.Exists(repo, n), n)
	}
}
