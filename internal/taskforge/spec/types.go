package spec

import "strings"

type SprintSize string

const (
	SizeXS SprintSize = "XS"
	SizeS  SprintSize = "S"
	SizeM  SprintSize = "M"
	SizeL  SprintSize = "L"
	SizeXL SprintSize = "XL"
)

type SprintIntent string

const (
	IntentFix      SprintIntent = "fix"
	IntentFeature  SprintIntent = "feature"
	IntentRefactor SprintIntent = "refactor"
	IntentInfra    SprintIntent = "infra"
)

type WorkspaceMode string

const (
	// WorkspacePatch runs tasks directly in the caller's working tree.
	WorkspacePatch WorkspaceMode = "patch"
	// WorkspaceWorktree runs each task in a dedicated git worktree and branch.
	WorkspaceWorktree WorkspaceMode = "worktree"
)

type ScopeGuard string

const (
	ScopeOff   ScopeGuard = "off"
	ScopeWarn  ScopeGuard = "warn"
	ScopeBlock ScopeGuard = "block"
)

type Sprint struct {
	Size   SprintSize   `json:"size,omitempty" yaml:"size,omitempty"`
	Intent SprintIntent `json:"intent,omitempty" yaml:"intent,omitempty"`
}

// FileContract constrains which paths a task may touch.
type FileContract struct {
	Allowed       []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Forbidden     []string `json:"forbidden,omitempty" yaml:"forbidden,omitempty"`
	AllowNewFiles *bool    `json:"allow_new_files,omitempty" yaml:"allow_new_files,omitempty"`
}

// NewFilesAllowed defaults to true when the contract does not say otherwise.
func (c *FileContract) NewFilesAllowed() bool {
	if c == nil || c.AllowNewFiles == nil {
		return true
	}
	return *c.AllowNewFiles
}

type BudgetTier struct {
	USD           *float64 `json:"usd,omitempty" yaml:"usd,omitempty"`
	Tokens        *int64   `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	TimeMinutes   *float64 `json:"time_minutes,omitempty" yaml:"time_minutes,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

type TaskBudget struct {
	Optimal *BudgetTier `json:"optimal,omitempty" yaml:"optimal,omitempty"`
	Warning *BudgetTier `json:"warning,omitempty" yaml:"warning,omitempty"`
	Hard    *BudgetTier `json:"hard,omitempty" yaml:"hard,omitempty"`
}

type Task struct {
	ID            string        `json:"id" yaml:"id"`
	Title         string        `json:"title,omitempty" yaml:"title,omitempty"`
	Goal          string        `json:"goal,omitempty" yaml:"goal,omitempty"`
	Deps          []string      `json:"deps,omitempty" yaml:"deps,omitempty"`
	Priority      int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Validators    []string      `json:"validators,omitempty" yaml:"validators,omitempty"`
	FilesContract *FileContract `json:"files_contract,omitempty" yaml:"files_contract,omitempty"`
	Budget        *TaskBudget   `json:"budget,omitempty" yaml:"budget,omitempty"`
	Sprint        *Sprint       `json:"sprint,omitempty" yaml:"sprint,omitempty"`
}

// DisplayName is the title when set, otherwise the id.
func (t Task) DisplayName() string {
	if s := strings.TrimSpace(t.Title); s != "" {
		return s
	}
	return t.ID
}

// Intent returns the sprint intent, or "" when no sprint is declared.
func (t Task) Intent() SprintIntent {
	if t.Sprint == nil {
		return ""
	}
	return t.Sprint.Intent
}

// Size returns the sprint size, or "" when no sprint is declared.
func (t Task) Size() SprintSize {
	if t.Sprint == nil {
		return ""
	}
	return t.Sprint.Size
}

type Validator struct {
	ID             string `json:"id" yaml:"id"`
	Run            string `json:"run" yaml:"run"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Parser         string `json:"parser,omitempty" yaml:"parser,omitempty"`
}

type ProjectInfo struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	RepoRoot string `json:"repo_root,omitempty" yaml:"repo_root,omitempty"`
}

type Defaults struct {
	Backend       string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	WorkspaceMode WorkspaceMode `json:"workspace_mode,omitempty" yaml:"workspace_mode,omitempty"`
	Validators    []string      `json:"validators,omitempty" yaml:"validators,omitempty"`
}

type Policies struct {
	ScopeGuard ScopeGuard `json:"scope_guard,omitempty" yaml:"scope_guard,omitempty"`
}

type RunBudget struct {
	MoneyUSD           *float64 `json:"money_usd,omitempty" yaml:"money_usd,omitempty"`
	Tokens             *int64   `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	WallTimeMinutes    *float64 `json:"wall_time_minutes,omitempty" yaml:"wall_time_minutes,omitempty"`
	MaxIterationsTotal *int     `json:"max_iterations_total,omitempty" yaml:"max_iterations_total,omitempty"`
}

type Limits struct {
	CommandTimeoutSeconds int `json:"command_timeout_seconds,omitempty" yaml:"command_timeout_seconds,omitempty"`
}

type Budgets struct {
	Run    RunBudget `json:"run,omitempty" yaml:"run,omitempty"`
	Limits Limits    `json:"limits,omitempty" yaml:"limits,omitempty"`
}

type BackendConfig struct {
	Command        string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args           []string `json:"args,omitempty" yaml:"args,omitempty"`
	TimeoutMinutes float64  `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
}

type Setup struct {
	Commands       []string `json:"commands,omitempty" yaml:"commands,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

type Artifacts struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	RootDir string `json:"root_dir,omitempty" yaml:"root_dir,omitempty"`
}

// Project is the immutable, validated description a run consumes.
type Project struct {
	Version        string                     `json:"version,omitempty" yaml:"version,omitempty"`
	Project        ProjectInfo                `json:"project,omitempty" yaml:"project,omitempty"`
	Defaults       Defaults                   `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Policies       Policies                   `json:"policies,omitempty" yaml:"policies,omitempty"`
	SprintDefaults map[SprintSize]*TaskBudget `json:"sprint_defaults,omitempty" yaml:"sprint_defaults,omitempty"`
	Budgets        Budgets                    `json:"budgets,omitempty" yaml:"budgets,omitempty"`
	Backends       map[string]BackendConfig   `json:"backends,omitempty" yaml:"backends,omitempty"`
	Setup          Setup                      `json:"setup,omitempty" yaml:"setup,omitempty"`
	Validators     []Validator                `json:"validators,omitempty" yaml:"validators,omitempty"`
	Tasks          []Task                     `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Artifacts      Artifacts                  `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`

	// Fingerprint is the blake3 digest of the source document; empty for
	// projects built in code.
	Fingerprint string `json:"-" yaml:"-"`
}

// ValidatorByID returns the declared validator with the given id.
func (p *Project) ValidatorByID(id string) (Validator, bool) {
	for _, v := range p.Validators {
		if v.ID == id {
			return v, true
		}
	}
	return Validator{}, false
}

// TaskByID returns the declared task with the given id.
func (p *Project) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskValidators resolves a task's validator ids, falling back to the project defaults.
func (p *Project) TaskValidators(t Task) []Validator {
	ids := t.Validators
	if len(ids) == 0 {
		ids = p.Defaults.Validators
	}
	out := make([]Validator, 0, len(ids))
	for _, id := range ids {
		if v, ok := p.ValidatorByID(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// ArtifactsEnabled defaults to true.
func (p *Project) ArtifactsEnabled() bool {
	if p.Artifacts.Enabled == nil {
		return true
	}
	return *p.Artifacts.Enabled
}
