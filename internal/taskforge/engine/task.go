package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/artifacts"
	"github.com/danshapiro/taskforge/internal/taskforge/backend"
	"github.com/danshapiro/taskforge/internal/taskforge/budget"
	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
	"github.com/danshapiro/taskforge/internal/taskforge/workspace"
)

// taskRun is the state of one task's trip through
// PLAN → PREP → {EXEC → VALIDATE → DIAGNOSE → REPAIR}* → CHECKPOINT → DONE.
type taskRun struct {
	e          *engine
	task       spec.Task
	validators []spec.Validator
	budget     *budget.Manager
	history    *issue.History
	maxIter    int
	log        *zap.Logger

	iteration   int
	phase       ledger.Phase
	startedAt   ledger.Timestamp
	tier        budget.Tier
	prev        *attempt
	lastIssues  []issue.Issue
	repairNotes string
}

func (e *engine) runTask(ctx context.Context, t spec.Task) TaskOutcome {
	tiers := budget.TierConfigFrom(e.project.EffectiveBudget(t))
	tr := &taskRun{
		e:          e,
		task:       t,
		validators: e.project.TaskValidators(t),
		budget:     budget.NewManager("task", budget.NewState(tiers.HardLimits()), tiers),
		history:    issue.NewHistory(issue.DefaultHistoryCap),
		maxIter:    e.maxIterations(tiers),
		log:        e.log.With(zap.String("task_id", t.ID)),
	}
	out, err := tr.run(ctx)
	if err == nil {
		return out
	}
	// Ledger failure or cancellation: record what we can and stop the run.
	reason := err.Error()
	tr.log.Error("task aborted", zap.Error(err))
	row := tr.row(ledger.TaskError)
	row.FinishedAt = ledger.Now()
	row.LastError = reason
	_ = e.events.Transition(context.WithoutCancel(ctx), row, ledger.KindTaskError, reason, nil)
	return TaskOutcome{
		TaskID:     t.ID,
		Status:     ledger.TaskError,
		Iterations: tr.budget.State().Usage().Iterations,
		ExitCode:   ExitInternal,
		Reason:     reason,
	}
}

func (tr *taskRun) run(ctx context.Context) (TaskOutcome, error) {
	e, t := tr.e, tr.task
	tr.startedAt = ledger.Now()
	ids := make([]string, 0, len(tr.validators))
	for _, v := range tr.validators {
		ids = append(ids, v.ID)
	}
	if err := tr.enter(ctx, ledger.PhasePlan, ledger.KindTaskStarted, "task started", map[string]any{
		"title":          t.DisplayName(),
		"validators":     ids,
		"max_iterations": tr.maxIter,
		"tiered":         tr.budget.Tiers() != nil,
	}); err != nil {
		return TaskOutcome{}, err
	}

	if err := e.ws.Prepare(t.ID); err != nil {
		return tr.terminal(ctx, ledger.TaskError, ExitConfig, ledger.KindTaskError, fmt.Sprintf("prepare workspace: %v", err), nil)
	}
	if err := tr.enter(ctx, ledger.PhasePrep, ledger.KindPhase, string(ledger.PhasePrep), map[string]any{
		"working_dir": e.ws.WorkingDir(t.ID),
		"mode":        e.ws.Mode(),
	}); err != nil {
		return TaskOutcome{}, err
	}

	for i := 1; i <= tr.maxIter; i++ {
		tr.iteration = i
		out, done, err := tr.iterate(ctx)
		if err != nil || done {
			return out, err
		}
	}
	return tr.exhausted(ctx)
}

// iterate runs one EXEC/VALIDATE/DIAGNOSE/REPAIR pass. done is true when the
// task reached a terminal state.
func (tr *taskRun) iterate(ctx context.Context) (out TaskOutcome, done bool, err error) {
	e, t, iter := tr.e, tr.task, tr.iteration

	if err := tr.budget.CheckHardCap(); err != nil {
		out, err = tr.hardCap(ctx, err)
		return out, true, err
	}
	if err := e.runBudget.Preflight(budget.Usage{Iterations: 1}); err != nil {
		out, err = tr.terminal(ctx, ledger.TaskBlocked, ExitBudget, ledger.KindBudgetExceeded, err.Error(), exceededData(err))
		return out, true, err
	}
	if err := tr.budget.Preflight(budget.Usage{}); err != nil {
		out, err = tr.terminal(ctx, ledger.TaskBlocked, ExitBudget, ledger.KindBudgetExceeded, err.Error(), exceededData(err))
		return out, true, err
	}

	tier := tr.budget.Tier()
	if tier != tr.tier {
		status, _ := tr.budget.Status()
		if err := e.events.Event(ctx, t.ID, ledger.KindBudgetTier, fmt.Sprintf("tier %s", tier), status); err != nil {
			return out, true, err
		}
		tr.tier = tier
	}
	warning := tier == budget.TierWarning
	shrunk := warning && tr.prev != nil
	pack := fullContextPack(tr.validators, tr.prev)
	if shrunk {
		pack = shrunkContextPack(tr.validators, tr.prev)
	}

	// EXEC
	e.metrics.iteration(t.ID)
	if err := tr.enter(ctx, ledger.PhaseExec, ledger.KindPhase, string(ledger.PhaseExec), map[string]any{
		"tier":   tier,
		"shrunk": shrunk,
	}); err != nil {
		return out, true, err
	}
	started := time.Now()
	res, callErr := e.backend.Implement(ctx, backend.Env{
		WorkingDir:     e.ws.WorkingDir(t.ID),
		BackendID:      e.backend.ID(),
		TranscriptPath: e.transcriptPath(t.ID, iter),
		Stream:         e.opts.Stream,
	}, backend.Input{
		Task:        t,
		Iteration:   iter,
		RepairNotes: tr.repairNotes,
		ContextPack: pack,
		Tier:        string(tier),
	})
	if ctx.Err() != nil {
		return out, true, ctx.Err()
	}
	execWall := time.Since(started)
	ok := callErr == nil && res.OK
	e.metrics.backend(e.backend.ID(), ok, res.EstimatedUSD)
	if !ok {
		msg := res.Message
		if callErr != nil {
			msg = callErr.Error()
		}
		if err := tr.recordUsage(ctx, res, map[ledger.Phase]time.Duration{ledger.PhaseExec: execWall}); err != nil {
			return out, true, err
		}
		out, err = tr.terminal(ctx, ledger.TaskError, ExitBackend, ledger.KindBackendError, "backend failed: "+msg, map[string]any{
			"backend": e.backend.ID(),
			"message": msg,
		})
		return out, true, err
	}
	if err := e.events.Event(ctx, t.ID, ledger.KindBackend, "backend ok", map[string]any{
		"backend":          e.backend.ID(),
		"message":          res.Message,
		"estimated_usd":    res.EstimatedUSD,
		"estimated_tokens": res.EstimatedTokens,
	}); err != nil {
		return out, true, err
	}

	// VALIDATE
	checked := time.Now()
	if err := tr.enter(ctx, ledger.PhaseValidate, ledger.KindPhase, string(ledger.PhaseValidate), nil); err != nil {
		return out, true, err
	}
	dir := e.ws.WorkingDir(t.ID)
	results, err := e.validatorRunner(dir).RunAll(ctx, tr.validators)
	if err != nil {
		return out, true, err
	}
	allOK := true
	var issues []issue.Issue
	summary := make([]map[string]any, 0, len(tr.validators))
	for _, v := range tr.validators {
		r := results[v.ID]
		allOK = allOK && r.OK
		issues = append(issues, r.Issues...)
		summary = append(summary, map[string]any{
			"id":          v.ID,
			"ok":          r.OK,
			"exit_code":   r.ExitCode,
			"timed_out":   r.TimedOut,
			"issues":      len(r.Issues),
			"duration_ms": r.Duration.Milliseconds(),
		})
	}
	if err := e.events.Event(ctx, t.ID, ledger.KindValidate, fmt.Sprintf("validators ok=%t", allOK), summary); err != nil {
		return out, true, err
	}

	policyIssues, wsErr := tr.checkPolicies(ctx)
	if wsErr != nil {
		out, err = tr.terminal(ctx, ledger.TaskError, ExitConfig, ledger.KindTaskError, fmt.Sprintf("inspect workspace: %v", wsErr), nil)
		return out, true, err
	}
	issues = append(issues, policyIssues...)
	tr.lastIssues = issues
	if err := e.store.RecordIssues(ctx, e.runID, t.ID, iter, issues); err != nil {
		return out, true, err
	}
	if err := tr.recordUsage(ctx, res, map[ledger.Phase]time.Duration{
		ledger.PhaseExec:     execWall,
		ledger.PhaseValidate: time.Since(checked),
	}); err != nil {
		return out, true, err
	}

	if allOK && !issue.HasErrors(issues) {
		out, err = tr.succeed(ctx)
		return out, true, err
	}

	// DIAGNOSE
	sigs := issue.SignatureSet(issues)
	digest := issue.Digest(sigs)
	if err := tr.enter(ctx, ledger.PhaseDiagnose, ledger.KindPhase, string(ledger.PhaseDiagnose), map[string]any{
		"issues":     len(issues),
		"signatures": len(sigs),
		"digest":     digest,
	}); err != nil {
		return out, true, err
	}
	if tr.history.Observe(iter, sigs) {
		out, err = tr.terminal(ctx, ledger.TaskBlocked, ExitStuck, ledger.KindStuck,
			fmt.Sprintf("Stuck: the same %d issue(s) keep recurring", len(sigs)),
			map[string]any{"digest": digest, "signatures": sigs})
		return out, true, err
	}

	// REPAIR
	// The notes steer the next attempt, so they follow the tier this
	// iteration's spend moved the task into.
	warning = tr.budget.Tier() == budget.TierWarning
	tr.repairNotes = BuildRepairNotes(issues, warning)
	tr.prev = &attempt{results: results, issues: issues}
	if err := tr.enter(ctx, ledger.PhaseRepair, ledger.KindRepair, "repair notes prepared", map[string]any{
		"issues":  len(issues),
		"warning": warning,
	}); err != nil {
		return out, true, err
	}
	if err := tr.cadenceCheckpoint(ctx); err != nil {
		return out, true, err
	}
	if !warning {
		e.art.Refresh(ctx)
	}
	return out, false, nil
}

// checkPolicies evaluates scope heuristics and the file contract. Scope is
// read before the contract because a contract violation reverts the tree.
func (tr *taskRun) checkPolicies(ctx context.Context) ([]issue.Issue, error) {
	e, t := tr.e, tr.task
	guard := e.project.Policies.ScopeGuard
	if guard == "" {
		guard = spec.ScopeWarn
	}

	var out []issue.Issue
	if guard != spec.ScopeOff {
		changed, err := e.ws.ChangedFiles(t.ID)
		if err != nil {
			return nil, err
		}
		level := issue.LevelWarning
		if guard == spec.ScopeBlock {
			level = issue.LevelError
		}
		scope := workspace.DetectScope(t, changed)
		for _, v := range scope {
			out = append(out, issue.Issue{Kind: issue.KindScopeViolation, Level: level, File: v.File, Message: v.Message})
		}
		if len(scope) > 0 {
			if err := e.events.Event(ctx, t.ID, ledger.KindScopeViolated, fmt.Sprintf("%d scope violation(s)", len(scope)), map[string]any{
				"policy":     guard,
				"violations": scope,
			}); err != nil {
				return nil, err
			}
		}
	}

	violations, err := e.ws.EnforceContract(t.ID, t.FilesContract)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		out = append(out, issue.Issue{
			Kind:    issue.KindContractViolation,
			Level:   issue.LevelError,
			File:    v.File,
			Message: fmt.Sprintf("change violates file contract (%s)", v.Reason),
		})
	}
	if len(violations) > 0 {
		if err := e.events.Event(ctx, t.ID, ledger.KindContractViolated, fmt.Sprintf("%d contract violation(s); workspace reverted", len(violations)), map[string]any{
			"violations": violations,
			"reverted":   true,
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (tr *taskRun) succeed(ctx context.Context) (TaskOutcome, error) {
	e, t := tr.e, tr.task
	if err := tr.enter(ctx, ledger.PhaseCheckpoint, ledger.KindPhase, string(ledger.PhaseCheckpoint), nil); err != nil {
		return TaskOutcome{}, err
	}
	ref, err := e.ws.Checkpoint(t.ID, fmt.Sprintf("complete (iteration %d)", tr.iteration))
	if err != nil {
		return tr.terminal(ctx, ledger.TaskError, ExitConfig, ledger.KindTaskError, fmt.Sprintf("checkpoint: %v", err), nil)
	}
	if err := tr.recordCheckpoint(ctx, ref, "complete"); err != nil {
		return TaskOutcome{}, err
	}
	if err := e.ws.Merge(t.ID); err != nil {
		return tr.terminal(ctx, ledger.TaskError, ExitConfig, ledger.KindMergeFailed, err.Error(), nil)
	}
	if e.ws.Mode() == spec.WorkspaceWorktree {
		if err := e.events.Event(ctx, t.ID, ledger.KindMerge, "merged", nil); err != nil {
			return TaskOutcome{}, err
		}
	}
	if err := e.ws.Cleanup(t.ID); err != nil {
		tr.log.Warn("workspace cleanup", zap.Error(err))
	}

	row := tr.row(ledger.TaskDone)
	row.Phase = ledger.PhaseDone
	row.FinishedAt = ledger.Now()
	if err := e.events.Transition(ctx, row, ledger.KindTaskDone, "task done", map[string]any{
		"iterations": tr.iteration,
		"ref":        ref,
	}); err != nil {
		return TaskOutcome{}, err
	}
	tr.phase = ledger.PhaseDone
	return TaskOutcome{TaskID: t.ID, Status: ledger.TaskDone, Iterations: tr.iteration, ExitCode: ExitSuccess}, nil
}

// cadenceCheckpoint commits failing work on the task branch every N
// iterations. Only isolated worktrees are checkpointed mid-task.
func (tr *taskRun) cadenceCheckpoint(ctx context.Context) error {
	e := tr.e
	every := spec.ConstraintsFor(tr.task.Intent()).CheckpointEveryIterations
	if e.ws.Mode() != spec.WorkspaceWorktree || every <= 0 || tr.iteration%every != 0 {
		return nil
	}
	ref, err := e.ws.Checkpoint(tr.task.ID, fmt.Sprintf("iteration %d (in progress)", tr.iteration))
	if err != nil {
		tr.log.Warn("cadence checkpoint failed", zap.Int("iteration", tr.iteration), zap.Error(err))
		return nil
	}
	return tr.recordCheckpoint(ctx, ref, "cadence")
}

func (tr *taskRun) recordCheckpoint(ctx context.Context, ref, why string) error {
	e := tr.e
	msg := fmt.Sprintf("%s checkpoint at iteration %d", why, tr.iteration)
	if err := e.store.RecordCheckpoint(ctx, e.runID, tr.task.ID, ref, msg); err != nil {
		return err
	}
	return e.events.Event(ctx, tr.task.ID, ledger.KindCheckpoint, msg, map[string]any{"ref": ref, "iteration": tr.iteration})
}

// exhausted handles running out of iterations: a reached hard cap blocks as
// a budget stop, anything else as max iterations.
func (tr *taskRun) exhausted(ctx context.Context) (TaskOutcome, error) {
	if err := tr.budget.CheckHardCap(); err != nil {
		return tr.hardCap(ctx, err)
	}
	return tr.terminal(ctx, ledger.TaskBlocked, ExitStuck, ledger.KindMaxIterations,
		fmt.Sprintf("Max iterations reached (%d)", tr.maxIter), map[string]any{"max_iterations": tr.maxIter})
}

func (tr *taskRun) hardCap(ctx context.Context, err error) (TaskOutcome, error) {
	status, _ := tr.budget.Status()
	return tr.terminal(ctx, ledger.TaskBlocked, ExitBudget, ledger.KindHardCap, err.Error(), status)
}

// terminal records a blocked or errored task. The workspace is left as is
// for inspection.
func (tr *taskRun) terminal(ctx context.Context, status ledger.TaskStatus, code ExitCode, kind, reason string, data any) (TaskOutcome, error) {
	row := tr.row(status)
	row.FinishedAt = ledger.Now()
	row.LastError = reason
	if err := tr.e.events.Transition(ctx, row, kind, reason, data); err != nil {
		return TaskOutcome{}, err
	}
	tr.e.art.FailureSummary(ctx, artifacts.Failure{
		TaskID:    tr.task.ID,
		Status:    status,
		Reason:    reason,
		Iteration: tr.iteration,
		Issues:    tr.lastIssues,
	})
	return TaskOutcome{
		TaskID:     tr.task.ID,
		Status:     status,
		Iterations: tr.budget.State().Usage().Iterations,
		ExitCode:   code,
		Reason:     reason,
	}, nil
}

func (tr *taskRun) enter(ctx context.Context, phase ledger.Phase, kind, msg string, data any) error {
	tr.phase = phase
	return tr.e.events.Transition(ctx, tr.row(ledger.TaskRunning), kind, msg, data)
}

func (tr *taskRun) row(status ledger.TaskStatus) ledger.TaskRow {
	return ledger.TaskRow{
		TaskID:    tr.task.ID,
		Status:    status,
		Phase:     tr.phase,
		Iteration: tr.iteration,
		StartedAt: tr.startedAt,
	}
}

// recordUsage adds one iteration's wall time and reported spend to both the
// task and run accumulators.
func (tr *taskRun) recordUsage(ctx context.Context, res backend.Result, phases map[ledger.Phase]time.Duration) error {
	var wall time.Duration
	phaseMS := make(map[ledger.Phase]int64, len(phases))
	for p, d := range phases {
		wall += d
		phaseMS[p] = d.Milliseconds()
	}
	for _, m := range []*budget.Manager{tr.budget, tr.e.runBudget} {
		m.RecordIteration(wall)
		m.RecordBackendUsage(res.EstimatedUSD, res.EstimatedTokens)
	}
	return tr.e.events.Event(ctx, tr.task.ID, ledger.KindUsage, fmt.Sprintf("iteration %d usage", tr.iteration), ledger.Usage{
		USD:        res.EstimatedUSD,
		Tokens:     res.EstimatedTokens,
		WallTimeMS: wall.Milliseconds(),
		Iterations: 1,
		Backend:    tr.e.backend.ID(),
		PhaseMS:    phaseMS,
	})
}

func exceededData(err error) map[string]any {
	var be *budget.ExceededError
	if errors.As(err, &be) {
		return map[string]any{"scope": be.Scope, "metric": be.Metric}
	}
	return nil
}
