package spec

type ValidatorStrictness string

const (
	StrictnessNormal ValidatorStrictness = "normal"
	StrictnessStrict ValidatorStrictness = "strict"
)

// IntentConstraints are the behavioural knobs implied by a sprint intent.
type IntentConstraints struct {
	CheckpointEveryIterations int
	RefactorAllowed           bool
	ValidatorStrictness       ValidatorStrictness
}

var intentConstraints = map[SprintIntent]IntentConstraints{
	IntentFix:      {CheckpointEveryIterations: 1, RefactorAllowed: false, ValidatorStrictness: StrictnessStrict},
	IntentFeature:  {CheckpointEveryIterations: 2, RefactorAllowed: true, ValidatorStrictness: StrictnessNormal},
	IntentRefactor: {CheckpointEveryIterations: 1, RefactorAllowed: true, ValidatorStrictness: StrictnessStrict},
	IntentInfra:    {CheckpointEveryIterations: 1, RefactorAllowed: false, ValidatorStrictness: StrictnessNormal},
}

// ConstraintsFor returns the constraints for an intent. Unknown or empty
// intents behave like a feature.
func ConstraintsFor(intent SprintIntent) IntentConstraints {
	if c, ok := intentConstraints[intent]; ok {
		return c
	}
	return intentConstraints[IntentFeature]
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func sizeBudget(optimal, warning, hard float64, maxIter int) *TaskBudget {
	return &TaskBudget{
		Optimal: &BudgetTier{USD: f64(optimal)},
		Warning: &BudgetTier{USD: f64(warning)},
		Hard:    &BudgetTier{USD: f64(hard), MaxIterations: intp(maxIter)},
	}
}

// DefaultSprintBudgets returns fresh copies of the built-in budgets per size.
func DefaultSprintBudgets() map[SprintSize]*TaskBudget {
	return map[SprintSize]*TaskBudget{
		SizeXS: sizeBudget(0.2, 0.35, 0.5, 3),
		SizeS:  sizeBudget(0.5, 0.8, 1.2, 5),
		SizeM:  sizeBudget(1.2, 2.0, 3.0, 8),
		SizeL:  sizeBudget(2.5, 4.0, 6.0, 12),
		SizeXL: sizeBudget(5.0, 8.0, 12.0, 20),
	}
}

// Unlimited marks a scope cap that is not enforced.
const Unlimited = -1

// MaxChangedFiles is the changed-file cap implied by an intent.
func MaxChangedFiles(intent SprintIntent) int {
	switch intent {
	case IntentFix:
		return 5
	case IntentFeature:
		return 20
	case IntentInfra:
		return 50
	default:
		return Unlimited
	}
}

// MaxNewFiles is the new-file cap implied by a sprint size.
func MaxNewFiles(size SprintSize) int {
	switch size {
	case SizeXS, SizeS:
		return 0
	case SizeM:
		return 2
	case SizeL:
		return 10
	default:
		return Unlimited
	}
}

// EffectiveBudget merges the sprint-size default budget (project override
// first, then built-in) with the task's own tiers, field by field. It returns
// nil when neither source declares anything.
func (p *Project) EffectiveBudget(t Task) *TaskBudget {
	var base *TaskBudget
	if size := t.Size(); size != "" {
		if p != nil && p.SprintDefaults != nil {
			base = p.SprintDefaults[size]
		}
		if base == nil {
			base = DefaultSprintBudgets()[size]
		}
	}
	if base == nil && t.Budget == nil {
		return nil
	}
	out := &TaskBudget{}
	var own TaskBudget
	if t.Budget != nil {
		own = *t.Budget
	}
	var def TaskBudget
	if base != nil {
		def = *base
	}
	out.Optimal = mergeTier(def.Optimal, own.Optimal)
	out.Warning = mergeTier(def.Warning, own.Warning)
	out.Hard = mergeTier(def.Hard, own.Hard)
	return out
}

func mergeTier(def, own *BudgetTier) *BudgetTier {
	if def == nil && own == nil {
		return nil
	}
	out := &BudgetTier{}
	if def != nil {
		*out = *def
	}
	if own == nil {
		return out
	}
	if own.USD != nil {
		out.USD = own.USD
	}
	if own.Tokens != nil {
		out.Tokens = own.Tokens
	}
	if own.TimeMinutes != nil {
		out.TimeMinutes = own.TimeMinutes
	}
	if own.MaxIterations != nil {
		out.MaxIterations = own.MaxIterations
	}
	return out
}
