// Package engine drives a task graph through the bounded
// execute/validate/repair loop and records every step in the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/artifacts"
	"github.com/danshapiro/taskforge/internal/taskforge/backend"
	"github.com/danshapiro/taskforge/internal/taskforge/budget"
	"github.com/danshapiro/taskforge/internal/taskforge/gitutil"
	"github.com/danshapiro/taskforge/internal/taskforge/graph"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
	"github.com/danshapiro/taskforge/internal/taskforge/validators"
	"github.com/danshapiro/taskforge/internal/taskforge/workspace"
)

// DefaultMaxIterations applies when neither the task nor the run caps
// iterations.
const DefaultMaxIterations = 12

type Options struct {
	// RepoRoot defaults to the project's repo_root.
	RepoRoot string
	// StateDir is relative to RepoRoot.
	StateDir string
	Project  *spec.Project
	// TaskID runs only that task and skips graph validation.
	TaskID string

	// Backend, Workspace and Store are built from the project when nil.
	Backend   backend.Backend
	Workspace workspace.Manager
	Store     *ledger.Store

	Logger  *zap.Logger
	Metrics *Metrics
	// MetricsFile receives the run's metrics in textfile format at the end.
	MetricsFile string
	// Stream receives backend output lines as they arrive.
	Stream io.Writer
}

// UnknownTaskError is returned in single-task mode for an id the project
// does not declare.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string { return fmt.Sprintf("unknown task %q", e.ID) }

// Plan returns the execution order: the whole graph, or only taskID.
func Plan(p *spec.Project, taskID string) (*graph.Graph, error) {
	if taskID != "" {
		t, ok := p.TaskByID(taskID)
		if !ok {
			return nil, &UnknownTaskError{ID: taskID}
		}
		return graph.Single(t), nil
	}
	return graph.Build(p.Tasks)
}

type engine struct {
	opts      Options
	project   *spec.Project
	repoRoot  string
	stateDir  string
	runID     string
	log       *zap.Logger
	store     *ledger.Store
	events    *ledger.Logger
	ws        workspace.Manager
	backend   backend.Backend
	metrics   *Metrics
	art       *artifacts.Writer
	runBudget *budget.Manager
}

// Run executes the project. Configuration problems are reported as a
// *ConfigError before any run row is written; every other terminal
// condition is described by the returned Outcome.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Project == nil {
		return configFailure(errors.New("no project"))
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := opts.Project

	repoRoot := opts.RepoRoot
	if repoRoot == "" {
		repoRoot = p.Project.RepoRoot
	}
	if repoRoot == "" {
		repoRoot = "."
	}
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return configFailure(err)
	}
	stateDir := opts.StateDir
	if stateDir == "" {
		stateDir = workspace.DefaultStateDir
	}

	g, err := Plan(p, opts.TaskID)
	if err != nil {
		return configFailure(err)
	}

	ws := opts.Workspace
	if ws == nil {
		ws, err = workspace.New(p.Defaults.WorkspaceMode, workspace.Options{
			RepoRoot: repoRoot,
			StateDir: stateDir,
			Logger:   log,
		})
		if err != nil {
			return configFailure(err)
		}
	}

	store := opts.Store
	if store == nil {
		store, err = ledger.Open(ledger.DefaultPath(repoRoot, stateDir))
		if err != nil {
			return Outcome{ExitCode: ExitInternal, Status: ledger.RunError, Reason: err.Error()}, err
		}
		defer func() { _ = store.Close() }()
	}

	be := opts.Backend
	if be == nil {
		be = backend.New(p.Defaults.Backend, p.Backends, log)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	runID := NewRunID()
	if err := store.CreateRun(ctx, ledger.Run{
		ID:            runID,
		RepoRoot:      repoRoot,
		BackendID:     be.ID(),
		WorkspaceMode: string(ws.Mode()),
		SpecHash:      p.Fingerprint,
		PID:           os.Getpid(),
	}); err != nil {
		return Outcome{ExitCode: ExitInternal, Status: ledger.RunError, Reason: err.Error()}, err
	}

	log = log.With(zap.String("run_id", runID))
	events := ledger.NewLogger(store, runID, log)
	e := &engine{
		opts:      opts,
		project:   p,
		repoRoot:  repoRoot,
		stateDir:  stateDir,
		runID:     runID,
		log:       log,
		store:     store,
		events:    events,
		ws:        ws,
		backend:   be,
		metrics:   metrics,
		runBudget: budget.NewManager("run", budget.NewState(runLimits(p.Budgets.Run)), nil),
	}
	if p.ArtifactsEnabled() {
		root := p.Artifacts.RootDir
		if root == "" {
			root = filepath.Join(stateDir, "artifacts")
		}
		e.art = artifacts.New(e.resolve(root), events, log)
	}

	out := e.run(ctx, g)
	out.RunID = runID
	e.finish(ctx, &out)
	return out, nil
}

func configFailure(err error) (Outcome, error) {
	return Outcome{ExitCode: ExitConfig, Status: ledger.RunError, Reason: err.Error()}, &ConfigError{Err: err}
}

func (e *engine) run(ctx context.Context, g *graph.Graph) Outcome {
	order := g.Order
	if err := e.events.Event(ctx, "", ledger.KindRunStarted, "run started", map[string]any{
		"tasks":          order,
		"backend":        e.backend.ID(),
		"workspace_mode": e.ws.Mode(),
		"spec_hash":      e.project.Fingerprint,
		"single_task":    e.opts.TaskID != "",
	}); err != nil {
		return internalOutcome(err)
	}
	for _, id := range order {
		if err := e.store.UpsertTask(ctx, ledger.TaskRow{
			RunID:  e.runID,
			TaskID: id,
			Status: ledger.TaskPending,
			Phase:  ledger.PhasePlan,
		}); err != nil {
			return internalOutcome(err)
		}
	}
	e.art.Refresh(ctx)

	if err := runSetup(ctx, e.repoRoot, e.project.Setup, e.events); err != nil {
		var se *SetupError
		if errors.As(err, &se) {
			return Outcome{ExitCode: ExitConfig, Reason: err.Error()}
		}
		return internalOutcome(err)
	}

	var out Outcome
	for _, t := range g.Tasks() {
		to := e.runTask(ctx, t)
		out.Tasks = append(out.Tasks, to)
		e.metrics.task(string(to.Status))
		e.art.Refresh(ctx)
		if to.Status != ledger.TaskDone {
			out.ExitCode = to.ExitCode
			out.Reason = to.Reason
			out.FailedTask = t.ID
			return out
		}
	}
	out.ExitCode = ExitSuccess
	return out
}

func internalOutcome(err error) Outcome {
	return Outcome{ExitCode: ExitInternal, Reason: err.Error()}
}

// finish finalizes the run row and writes the end-of-run projections. It
// runs even when ctx was cancelled.
func (e *engine) finish(ctx context.Context, out *Outcome) {
	ctx = context.WithoutCancel(ctx)
	out.Status = out.ExitCode.RunStatus()

	if err := e.events.Event(ctx, "", ledger.KindRunFinished, fmt.Sprintf("run %s", out.Status), map[string]any{
		"status":      out.Status,
		"exit_code":   int(out.ExitCode),
		"reason":      out.Reason,
		"failed_task": out.FailedTask,
	}); err != nil {
		e.log.Error("record run end", zap.Error(err))
	}
	if err := e.store.FinishRun(ctx, e.runID, out.Status, int(out.ExitCode), out.Reason); err != nil {
		e.log.Error("finalize run", zap.Error(err))
	}

	e.art.Refresh(ctx)
	if e.art != nil {
		fo := &artifacts.FinalOutcome{
			Timestamp:     time.Now().UTC(),
			Status:        out.Status,
			RunID:         e.runID,
			ExitCode:      int(out.ExitCode),
			FailureReason: out.Reason,
			FailedTask:    out.FailedTask,
		}
		if sha, err := gitutil.HeadSHA(e.repoRoot); err == nil {
			fo.FinalGitCommitSHA = sha
		}
		if all, err := e.store.EventsAfter(ctx, e.runID, 0); err == nil {
			fo.Spend = ledger.AggregateSpend(all, e.backend.ID()).Total
		}
		e.art.Final(ctx, fo)
	}

	if err := e.metrics.WriteTextfile(e.opts.MetricsFile); err != nil {
		e.log.Warn("write metrics file", zap.String("path", e.opts.MetricsFile), zap.Error(err))
	}
	e.log.Info("run finished",
		zap.String("status", string(out.Status)),
		zap.Int("exit_code", int(out.ExitCode)),
		zap.String("reason", out.Reason),
	)
}

func (e *engine) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.repoRoot, p)
}

func (e *engine) transcriptPath(taskID string, iteration int) string {
	return filepath.Join(e.repoRoot, e.stateDir, "logs", e.runID, fmt.Sprintf("%s-iter-%d.log", safeName(taskID), iteration))
}

func (e *engine) validatorRunner(dir string) *validators.Runner {
	r := &validators.Runner{
		Dir:    dir,
		Logger: e.log,
		Observe: func(v spec.Validator, res validators.Result) {
			e.metrics.validator(v.ID, res.OK, res.Duration)
		},
	}
	if s := e.project.Budgets.Limits.CommandTimeoutSeconds; s > 0 {
		r.DefaultTimeout = time.Duration(s) * time.Second
	}
	return r
}

// maxIterations is min(task hard cap, run total), or the default when
// neither is set.
func (e *engine) maxIterations(tiers *budget.TierConfig) int {
	n := 0
	if tiers != nil && tiers.MaxIterations > 0 {
		n = tiers.MaxIterations
	}
	if total := e.project.Budgets.Run.MaxIterationsTotal; total != nil && *total > 0 && (n == 0 || *total < n) {
		n = *total
	}
	if n == 0 {
		n = DefaultMaxIterations
	}
	return n
}

func runLimits(b spec.RunBudget) budget.Limits {
	l := budget.Limits{USD: b.MoneyUSD, Tokens: b.Tokens, MaxIterations: b.MaxIterationsTotal}
	if b.WallTimeMinutes != nil {
		d := time.Duration(*b.WallTimeMinutes * float64(time.Minute))
		l.WallTime = &d
	}
	return l
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
