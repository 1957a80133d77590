package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveBudget_SizeDefaults(t *testing.T) {
	p := &Project{}
	b := p.EffectiveBudget(Task{ID: "a", Sprint: &Sprint{Size: SizeXS}})
	require.NotNil(t, b)
	assert.InDelta(t, 0.2, *b.Optimal.USD, 1e-9)
	assert.InDelta(t, 0.35, *b.Warning.USD, 1e-9)
	assert.InDelta(t, 0.5, *b.Hard.USD, 1e-9)
	assert.Equal(t, 3, *b.Hard.MaxIterations)
}

func TestEffectiveBudget_TaskOverridesFieldByField(t *testing.T) {
	p := &Project{}
	one := 1
	b := p.EffectiveBudget(Task{
		ID:     "a",
		Sprint: &Sprint{Size: SizeL},
		Budget: &TaskBudget{Hard: &BudgetTier{MaxIterations: &one}},
	})
	require.NotNil(t, b)
	assert.Equal(t, 1, *b.Hard.MaxIterations)
	assert.InDelta(t, 6.0, *b.Hard.USD, 1e-9)
}

func TestEffectiveBudget_ProjectSprintDefaultsWin(t *testing.T) {
	usd := 9.0
	iters := 7
	p := &Project{SprintDefaults: map[SprintSize]*TaskBudget{
		SizeS: {Hard: &BudgetTier{USD: &usd, MaxIterations: &iters}},
	}}
	b := p.EffectiveBudget(Task{ID: "a", Sprint: &Sprint{Size: SizeS}})
	require.NotNil(t, b)
	assert.Nil(t, b.Optimal)
	assert.Equal(t, 7, *b.Hard.MaxIterations)
}

func TestEffectiveBudget_NoneDeclared(t *testing.T) {
	p := &Project{}
	assert.Nil(t, p.EffectiveBudget(Task{ID: "a"}))
	assert.Nil(t, p.EffectiveBudget(Task{ID: "a", Sprint: &Sprint{Intent: IntentFix}}))
}

func TestScopeCaps(t *testing.T) {
	assert.Equal(t, 5, MaxChangedFiles(IntentFix))
	assert.Equal(t, 20, MaxChangedFiles(IntentFeature))
	assert.Equal(t, 50, MaxChangedFiles(IntentInfra))
	assert.Equal(t, Unlimited, MaxChangedFiles(IntentRefactor))

	assert.Equal(t, 0, MaxNewFiles(SizeXS))
	assert.Equal(t, 0, MaxNewFiles(SizeS))
	assert.Equal(t, 2, MaxNewFiles(SizeM))
	assert.Equal(t, 10, MaxNewFiles(SizeL))
	assert.Equal(t, Unlimited, MaxNewFiles(SizeXL))
}

func TestConstraintsFor(t *testing.T) {
	assert.Equal(t, 1, ConstraintsFor(IntentFix).CheckpointEveryIterations)
	assert.False(t, ConstraintsFor(IntentFix).RefactorAllowed)
	assert.Equal(t, 2, ConstraintsFor(IntentFeature).CheckpointEveryIterations)
	assert.Equal(t, StrictnessStrict, ConstraintsFor(IntentRefactor).ValidatorStrictness)
	assert.Equal(t, 2, ConstraintsFor("").CheckpointEveryIterations)
}
