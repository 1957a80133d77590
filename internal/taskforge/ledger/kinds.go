package ledger

// Event kinds written by the engine.
const (
	KindRunStarted       = "run_started"
	KindRunFinished      = "run_finished"
	KindSetup            = "setup"
	KindSetupFailed      = "setup_failed"
	KindPhase            = "phase"
	KindTaskStarted      = "task_started"
	KindBudgetTier       = "budget_tier"
	KindBudgetExceeded   = "budget_exceeded"
	KindHardCap          = "hard_cap"
	KindBackend          = "backend"
	KindBackendError     = "backend_error"
	KindUsage            = "usage"
	KindValidate         = "validate"
	KindContractViolated = "contract_violation"
	KindScopeViolated    = "scope_violation"
	KindStuck            = "stuck"
	KindRepair           = "repair"
	KindCheckpoint       = "checkpoint"
	KindMerge            = "merge"
	KindMergeFailed      = "merge_failed"
	KindTaskDone         = "task_done"
	KindTaskBlocked      = "task_blocked"
	KindTaskError        = "task_error"
	KindMaxIterations    = "max_iterations"
	KindArtifactError    = "artifact_error"
)
