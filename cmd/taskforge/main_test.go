package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/testutil"
)

type result struct {
	code           int
	stdout, stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv("TASKFORGE_LOG_LEVEL", "error")
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeSpec writes the spec outside the repo so in-place runs start clean.
func writeSpec(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const passingSpec = `
version: "1.0"
validators:
  - id: ok
    run: "true"
tasks:
  - id: b
    deps: [a]
    validators: [ok]
  - id: a
    validators: [ok]
`

func TestRun_ExitCodes(t *testing.T) {
	cases := []struct {
		name   string
		spec   string
		extra  []string
		code   int
		stdout string
	}{
		{name: "success", spec: passingSpec, code: 0, stdout: ": success (exit 0)"},
		{name: "hard cap", code: 2, stdout: "Hard cap reached", spec: `
validators:
  - {id: broken, run: "exit 1"}
tasks:
  - id: a
    validators: [broken]
    budget: {hard: {max_iterations: 1}}
`},
		{name: "stuck", code: 3, stdout: "Stuck", spec: `
validators:
  - {id: broken, run: "echo same failure; exit 1"}
tasks:
  - {id: a, validators: [broken]}
`},
		{name: "unknown task", spec: passingSpec, extra: []string{"--task", "zzz"}, code: 4},
		{name: "cycle", code: 4, spec: `
tasks:
  - {id: a, deps: [b]}
  - {id: b, deps: [a]}
`},
		{name: "setup failure", code: 4, stdout: "setup command", spec: `
setup: {commands: ["exit 9"]}
tasks:
  - {id: a}
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := testutil.InitRepo(t)
			args := append([]string{"run", "--repo", repo, "-f", writeSpec(t, tc.spec)}, tc.extra...)
			res := runCLI(t, args...)
			assert.Equal(t, tc.code, res.code, "stdout: %s\nstderr: %s", res.stdout, res.stderr)
			if tc.stdout != "" {
				assert.Contains(t, res.stdout, tc.stdout)
			}
		})
	}
}

func TestRun_MissingSpec(t *testing.T) {
	res := runCLI(t, "run", "-f", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, "error:")
}

func TestRun_InvalidWorkspaceFlag(t *testing.T) {
	repo := testutil.InitRepo(t)
	res := runCLI(t, "run", "--repo", repo, "-f", writeSpec(t, passingSpec), "--workspace", "sandbox")
	assert.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, "--workspace")
}

func TestRun_WorktreeAndMetricsFile(t *testing.T) {
	repo := testutil.InitRepo(t)
	prom := filepath.Join(t.TempDir(), "run.prom")
	res := runCLI(t, "run", "--repo", repo, "-f", writeSpec(t, passingSpec), "--workspace", "worktree", "--metrics-file", prom)
	require.Equal(t, 0, res.code, res.stderr)
	b, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(b), "taskforge_task_outcomes_total")
	assert.Empty(t, testutil.Git(t, repo, "branch", "--list", "taskforge/*"))
}

func TestPlanAndValidate(t *testing.T) {
	path := writeSpec(t, passingSpec)

	res := runCLI(t, "validate-spec", "-f", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "ok: 2 task(s), 1 validator(s)")

	res = runCLI(t, "plan", "-f", path)
	require.Equal(t, 0, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1 "), lines[1])
	assert.Contains(t, lines[1], " a ")
	assert.Contains(t, lines[2], " b ")

	bad := writeSpec(t, "tasks:\n  - {id: a, deps: [ghost]}\n")
	res = runCLI(t, "validate-spec", "-f", bad)
	assert.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, "ghost")
}

func TestStatusAndTail(t *testing.T) {
	repo := testutil.InitRepo(t)
	res := runCLI(t, "run", "--repo", repo, "-f", writeSpec(t, passingSpec))
	require.Equal(t, 0, res.code, res.stderr)

	res = runCLI(t, "status", "--repo", repo)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "status:    success")
	assert.Contains(t, res.stdout, "backend:   noop")
	assert.Regexp(t, `a\s+done\s+DONE\s+1`, res.stdout)

	res = runCLI(t, "tail", "--repo", repo, "-n", "3")
	require.Equal(t, 0, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], ledger.KindRunFinished)

	// The run is finalized, so --follow drains and returns.
	res = runCLI(t, "tail", "--repo", repo, "-n", "1", "--follow", "--interval", "10ms", "--json")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"kind":"run_finished"`)
}

func TestStatus_StaleActiveRun(t *testing.T) {
	repo := testutil.InitRepo(t)
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPID := cmd.ProcessState.Pid()

	store, err := ledger.Open(ledger.DefaultPath(repo, ".taskforge"))
	require.NoError(t, err)
	require.NoError(t, store.CreateRun(context.Background(), ledger.Run{ID: "run_dead", BackendID: "noop", PID: deadPID}))
	require.NoError(t, store.Close())

	res := runCLI(t, "status", "--repo", repo, "--run", "run_dead")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "active (stale)")

	res = runCLI(t, "status", "--repo", repo, "--run", "run_missing")
	assert.Equal(t, 4, res.code)
}

func TestStatus_NoLedger(t *testing.T) {
	res := runCLI(t, "status", "--repo", t.TempDir())
	assert.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, "no ledger")
}

func TestStatus_ResolvesRepoFromSpec(t *testing.T) {
	repo := testutil.InitRepo(t)
	specDir := t.TempDir()
	rel, err := filepath.Rel(specDir, repo)
	require.NoError(t, err)
	path := filepath.Join(specDir, "taskforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  repo_root: "+rel+"\n"+passingSpec), 0o644))

	res := runCLI(t, "run", "-f", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.FileExists(t, ledger.DefaultPath(repo, ".taskforge"))

	res = runCLI(t, "status", "-f", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "status:    success")

	res = runCLI(t, "tail", "-f", path, "-n", "1")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, ledger.KindRunFinished)
}

func TestBudgetAndReport(t *testing.T) {
	repo := testutil.InitRepo(t)
	res := runCLI(t, "run", "--repo", repo, "-f", writeSpec(t, passingSpec))
	require.Equal(t, 0, res.code, res.stderr)

	res = runCLI(t, "budget", "--repo", repo)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# Budget")
	assert.Contains(t, res.stdout, "2 iterations")
	assert.Contains(t, res.stdout, "| noop |")
	assert.Contains(t, res.stdout, "| EXEC |")
	assert.Contains(t, res.stdout, "| VALIDATE |")

	res = runCLI(t, "budget", "--repo", repo, "--json")
	require.Equal(t, 0, res.code, res.stderr)
	var rep budgetReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rep))
	assert.Contains(t, rep.RunID, "run_")
	assert.Equal(t, 2, rep.Spend.Total.Iterations)
	assert.Equal(t, []string{"a", "b"}, rep.Spend.Tasks)
	assert.Equal(t, 2, rep.Spend.ByBackend["noop"].Iterations)

	res = runCLI(t, "report", "--repo", repo, "--events", "2")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# Run report `"+rep.RunID+"`")
	assert.Contains(t, res.stdout, "- Status: **success**")
	assert.Contains(t, res.stdout, "| a | done | DONE | 1 |")
	assert.Equal(t, 2, strings.Count(res.stdout[strings.Index(res.stdout, "## Ledger"):], "\n- "))

	out := filepath.Join(t.TempDir(), "report.md")
	res = runCLI(t, "report", "--repo", repo, "--out", out)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "wrote "+out)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "## Ledger")
	assert.Contains(t, string(b), ledger.KindRunFinished)

	res = runCLI(t, "budget", "--repo", repo, "--run", "run_missing")
	assert.Equal(t, 4, res.code)
}

func TestCheckpoint(t *testing.T) {
	repo := testutil.InitRepo(t)
	head := testutil.Git(t, repo, "rev-parse", "HEAD")

	res := runCLI(t, "checkpoint", "--repo", repo, "--task", "t1")
	assert.Equal(t, 4, res.code)

	res = runCLI(t, "checkpoint", "--repo", repo, "--task", "t1", "-m", "nothing yet")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "checkpoint "+head+"\n", res.stdout)

	testutil.WriteFile(t, repo, "work.txt", "wip")
	res = runCLI(t, "checkpoint", "--repo", repo, "--task", "t1", "-m", "manual save")
	require.Equal(t, 0, res.code, res.stderr)
	newHead := testutil.Git(t, repo, "rev-parse", "HEAD")
	assert.NotEqual(t, head, newHead)
	assert.Equal(t, "checkpoint "+newHead+"\n", res.stdout)
	assert.Equal(t, "[taskforge] t1: manual save", testutil.Git(t, repo, "log", "-1", "--format=%s"))
	assert.Equal(t, "work.txt", testutil.Git(t, repo, "show", "--name-only", "--format=", "HEAD"))
}
