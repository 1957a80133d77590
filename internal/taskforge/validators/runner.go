// Package validators runs check commands and converts their output to issues.
package validators

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/procutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

// DefaultTimeout applies when neither the validator nor the runner sets one.
const DefaultTimeout = 10 * time.Minute

type Result struct {
	OK bool `json:"ok"`
	// ExitCode is nil when the command did not exit on its own.
	ExitCode *int          `json:"exit_code"`
	Duration time.Duration `json:"-"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Issues   []issue.Issue `json:"issues"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
}

// Output is the combined stdout and stderr.
func (r Result) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

type Runner struct {
	Dir            string
	DefaultTimeout time.Duration
	Logger         *zap.Logger
	// Observe, when set, is called after each validator finishes.
	Observe func(v spec.Validator, r Result)
}

// RunAll runs validators sequentially in the given order.
func (r *Runner) RunAll(ctx context.Context, vs []spec.Validator) (map[string]Result, error) {
	out := make(map[string]Result, len(vs))
	for _, v := range vs {
		res, err := r.RunOne(ctx, v)
		if err != nil {
			return out, err
		}
		out[v.ID] = res
	}
	return out, nil
}

// RunOne runs a single validator. The returned error is only non-nil when
// ctx is cancelled; every other failure is reported through the result.
func (r *Runner) RunOne(ctx context.Context, v spec.Validator) (Result, error) {
	timeout := r.DefaultTimeout
	if v.TimeoutSeconds > 0 {
		timeout = time.Duration(v.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := r.logger().With(zap.String("validator", v.ID))

	pr, err := procutil.Run(ctx, procutil.Command{Dir: r.Dir, Shell: v.Run, Timeout: timeout})
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	var res Result
	switch {
	case err != nil:
		res = Result{
			OK:       false,
			Duration: pr.Duration,
			Issues: []issue.Issue{{
				Kind:    issue.KindUnknown,
				Level:   issue.LevelError,
				Message: fmt.Sprintf("validator %s could not start: %v", v.ID, err),
			}},
		}
	case pr.TimedOut:
		res = Result{
			OK:       false,
			Duration: pr.Duration,
			TimedOut: true,
			Stdout:   pr.Stdout,
			Stderr:   pr.Stderr,
			Issues: []issue.Issue{{
				Kind:    kindFor(v),
				Level:   issue.LevelError,
				Message: fmt.Sprintf("validator %s timed out after %s", v.ID, timeout),
			}},
		}
	default:
		code := pr.ExitCode
		res = Result{
			OK:       code == 0,
			ExitCode: &code,
			Duration: pr.Duration,
			Stdout:   pr.Stdout,
			Stderr:   pr.Stderr,
		}
		res.Issues = Parser(v.Parser)(pr.Combined(), !res.OK)
		if !res.OK && len(res.Issues) == 0 {
			res.Issues = []issue.Issue{{
				Kind:    kindFor(v),
				Level:   issue.LevelError,
				Message: fmt.Sprintf("validator %s failed (exit %d)", v.ID, code),
			}}
		}
	}

	logger.Debug("validator finished",
		zap.Bool("ok", res.OK),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("issues", len(res.Issues)),
		zap.Duration("duration", res.Duration),
	)
	if r.Observe != nil {
		r.Observe(v, res)
	}
	return res, nil
}

func kindFor(v spec.Validator) string {
	if _, ok := parsers[v.Parser]; ok {
		return v.Parser
	}
	return issue.KindUnknown
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
