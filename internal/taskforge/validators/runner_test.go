package validators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

func TestRunOne_Pass(t *testing.T) {
	r := &Runner{Dir: t.TempDir()}
	res, err := r.RunOne(context.Background(), spec.Validator{ID: "ok", Run: "echo fine"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Empty(t, res.Issues)
	assert.Equal(t, "fine\n", res.Stdout)
}

func TestRunOne_FailureWithUnknownParserCarriesOutput(t *testing.T) {
	r := &Runner{Dir: t.TempDir()}
	res, err := r.RunOne(context.Background(), spec.Validator{ID: "x", Run: "echo broken thing; exit 2"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 2, *res.ExitCode)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, issue.KindUnknown, res.Issues[0].Kind)
	assert.Equal(t, "broken thing", res.Issues[0].Message)
}

func TestRunOne_SilentFailureGetsSyntheticIssue(t *testing.T) {
	r := &Runner{Dir: t.TempDir()}
	res, err := r.RunOne(context.Background(), spec.Validator{ID: "quiet", Run: "exit 1"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, issue.LevelError, res.Issues[0].Level)
	assert.Contains(t, res.Issues[0].Message, "validator quiet failed")
}

func TestRunOne_Timeout(t *testing.T) {
	r := &Runner{Dir: t.TempDir()}
	start := time.Now()
	res, err := r.RunOne(context.Background(), spec.Validator{ID: "slow", Run: "sleep 20", TimeoutSeconds: 1})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunAll_SequentialAndObserved(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zapcore.DebugLevel)
	var seen []string
	r := &Runner{
		Dir:    dir,
		Logger: zap.New(core),
		Observe: func(v spec.Validator, _ Result) {
			seen = append(seen, v.ID)
		},
	}
	results, err := r.RunAll(context.Background(), []spec.Validator{
		{ID: "first", Run: "echo 1 >> order.txt"},
		{ID: "second", Run: "echo 2 >> order.txt; cat order.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, "1\n2\n", results["second"].Stdout)
	assert.Equal(t, 2, logs.FilterMessage("validator finished").Len())
}

func TestRunAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Dir: t.TempDir()}
	_, err := r.RunAll(ctx, []spec.Validator{{ID: "a", Run: "true"}})
	require.ErrorIs(t, err, context.Canceled)
}
