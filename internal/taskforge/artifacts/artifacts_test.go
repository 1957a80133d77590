package artifacts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

func newRun(t *testing.T) *ledger.Logger {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, ledger.Run{ID: "run_1", BackendID: "noop", WorkspaceMode: "patch"}))
	lg := ledger.NewLogger(store, "run_1", nil)
	require.NoError(t, lg.Transition(ctx, ledger.TaskRow{TaskID: "a", Status: ledger.TaskDone, Phase: ledger.PhaseDone, Iteration: 1}, ledger.KindTaskDone, "done", nil))
	require.NoError(t, lg.Transition(ctx, ledger.TaskRow{TaskID: "b", Status: ledger.TaskRunning, Phase: ledger.PhaseValidate, Iteration: 2}, ledger.KindPhase, "VALIDATE", nil))
	require.NoError(t, lg.Event(ctx, "a", ledger.KindUsage, "usage", ledger.Usage{USD: 0.1, Tokens: 100, WallTimeMS: 1500, Iterations: 1}))
	return lg
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRefresh_WritesProjections(t *testing.T) {
	lg := newRun(t)
	root := filepath.Join(t.TempDir(), "artifacts")
	w := New(root, lg, nil)
	w.Refresh(context.Background())
	require.False(t, w.Disabled())

	status := read(t, filepath.Join(root, StatusFile))
	assert.Contains(t, status, "`run_1`")
	assert.Contains(t, status, "**active**")
	assert.Contains(t, status, "1 done, 1 pending")
	assert.Contains(t, status, "Active: `b` VALIDATE (iteration 2)")
	assert.Contains(t, status, "task_done `a`")

	tasks := read(t, filepath.Join(root, TasksFile))
	assert.Contains(t, tasks, "| a | done | DONE | 1 |")
	assert.Contains(t, tasks, "| b | running | VALIDATE | 2 |")

	budget := read(t, filepath.Join(root, BudgetFile))
	assert.Contains(t, budget, "Total: $0.1000, 100 tokens, 1.5s, 1 iterations")
	assert.Contains(t, budget, "| a | 0.1000 | 100 | 1.5s | 1 |")
	assert.Contains(t, budget, "| Backend | USD |")
	assert.Contains(t, budget, "| noop | 0.1000 | 100 | 1.5s | 1 |")
	assert.Contains(t, budget, "| EXEC | 0.1000 | 100 | 1.5s | 1 |")
}

func TestRenderReport(t *testing.T) {
	lg := newRun(t)
	ctx := context.Background()
	store := lg.Store()
	require.NoError(t, store.FinishRun(ctx, "run_1", ledger.RunStopped, 2, "Hard cap reached"))
	run, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	tasks, err := store.ListTasks(ctx, "run_1")
	require.NoError(t, err)
	events, err := store.EventsAfter(ctx, "run_1", 0)
	require.NoError(t, err)

	md := RenderReport(run, tasks, ledger.AggregateSpend(events, run.BackendID), events)
	assert.True(t, strings.HasPrefix(md, "# Run report `run_1`\n"))
	assert.Contains(t, md, "- Status: **stopped**")
	assert.Contains(t, md, "(exit 2)")
	assert.Contains(t, md, "- Reason: Hard cap reached")
	assert.Contains(t, md, "| b | running | VALIDATE | 2 |")
	assert.Contains(t, md, "Total: $0.1000, 100 tokens, 1.5s, 1 iterations")
	assert.Contains(t, md, "## Ledger")
	assert.Contains(t, md, "usage `a`: usage")
}

func TestFailureSummaryAndFinal(t *testing.T) {
	lg := newRun(t)
	root := t.TempDir()
	w := New(root, lg, nil)
	ctx := context.Background()

	w.FailureSummary(ctx, Failure{
		TaskID:    "b",
		Status:    ledger.TaskBlocked,
		Reason:    "Hard cap reached",
		Iteration: 3,
		Issues:    []issue.Issue{{Kind: "go", Level: issue.LevelError, File: "x.go", Line: 4, Message: "undefined: y"}},
	})
	summary := read(t, filepath.Join(root, "runs", "run_1", "failure-b.md"))
	assert.Contains(t, summary, "# Task b: blocked")
	assert.Contains(t, summary, "Hard cap reached")
	assert.Contains(t, summary, "x.go:4: undefined: y")

	w.Final(ctx, &FinalOutcome{Status: ledger.RunStopped, RunID: "run_1", ExitCode: 2, FailureReason: "Hard cap reached", FailedTask: "b"})
	var fo FinalOutcome
	require.NoError(t, json.Unmarshal([]byte(read(t, filepath.Join(root, "runs", "run_1", "final.json"))), &fo))
	assert.Equal(t, ledger.RunStopped, fo.Status)
	assert.Equal(t, 2, fo.ExitCode)
	assert.Equal(t, "b", fo.FailedTask)
}

func TestWriteFailureDisablesWriterAndIsRecorded(t *testing.T) {
	lg := newRun(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	w := New(filepath.Join(blocker, "artifacts"), lg, nil)
	ctx := context.Background()

	w.Refresh(ctx)
	assert.True(t, w.Disabled())
	w.Refresh(ctx)
	w.FailureSummary(ctx, Failure{TaskID: "b"})

	events, err := lg.Store().EventsAfter(ctx, "run_1", 0)
	require.NoError(t, err)
	var n int
	for _, ev := range events {
		if ev.Kind == ledger.KindArtifactError {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	assert.True(t, w.Disabled())
	w.Refresh(context.Background())
	w.Final(context.Background(), &FinalOutcome{})
}
