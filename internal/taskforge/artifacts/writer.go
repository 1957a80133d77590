// Package artifacts renders human-readable projections of the ledger. Every
// write is best-effort: the first failure is recorded and turns the writer
// off for the rest of the run.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

const (
	StatusFile = "STATUS.md"
	TasksFile  = "TASKS.md"
	BudgetFile = "BUDGET.md"

	recentEvents = 20
)

// Writer regenerates artifacts for one run. A nil *Writer is valid and
// writes nothing.
type Writer struct {
	root   string
	events *ledger.Logger
	log    *zap.Logger

	mu       sync.Mutex
	disabled bool
}

func New(root string, events *ledger.Logger, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{root: root, events: events, log: log.With(zap.String("artifacts", root))}
}

func (w *Writer) Root() string {
	if w == nil {
		return ""
	}
	return w.root
}

func (w *Writer) Disabled() bool {
	if w == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disabled
}

// Refresh rewrites STATUS.md, TASKS.md and BUDGET.md from the ledger.
func (w *Writer) Refresh(ctx context.Context) {
	if w.Disabled() {
		return
	}
	store, runID := w.events.Store(), w.events.RunID()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		w.fail(ctx, "read run", err)
		return
	}
	tasks, err := store.ListTasks(ctx, runID)
	if err != nil {
		w.fail(ctx, "read tasks", err)
		return
	}
	recent, err := store.ListEvents(ctx, runID, recentEvents)
	if err != nil {
		w.fail(ctx, "read events", err)
		return
	}
	all, err := store.EventsAfter(ctx, runID, 0)
	if err != nil {
		w.fail(ctx, "read events", err)
		return
	}
	spend := ledger.AggregateSpend(all, run.BackendID)

	if !w.write(ctx, StatusFile, RenderStatus(run, tasks, recent)) {
		return
	}
	if !w.write(ctx, TasksFile, RenderTasks(tasks)) {
		return
	}
	w.write(ctx, BudgetFile, RenderBudget(spend))
}

// FailureSummary writes runs/<run>/failure-<task>.md.
func (w *Writer) FailureSummary(ctx context.Context, f Failure) {
	if w.Disabled() {
		return
	}
	w.write(ctx, filepath.Join("runs", w.events.RunID(), "failure-"+f.TaskID+".md"), RenderFailure(f))
}

// Final writes runs/<run>/final.json.
func (w *Writer) Final(ctx context.Context, fo *FinalOutcome) {
	if w.Disabled() {
		return
	}
	path := filepath.Join(w.root, "runs", w.events.RunID(), "final.json")
	if err := fo.Save(path); err != nil {
		w.fail(ctx, "write final.json", err)
	}
}

func (w *Writer) write(ctx context.Context, rel, content string) bool {
	path := filepath.Join(w.root, rel)
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		w.fail(ctx, "write "+rel, err)
		return false
	}
	return true
}

func (w *Writer) fail(ctx context.Context, what string, err error) {
	w.mu.Lock()
	w.disabled = true
	w.mu.Unlock()
	w.log.Warn("artifact writing disabled", zap.String("op", what), zap.Error(err))
	_ = w.events.Event(ctx, "", ledger.KindArtifactError, fmt.Sprintf("%s: %v", what, err), map[string]string{"op": what})
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
