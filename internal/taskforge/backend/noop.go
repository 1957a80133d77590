package backend

import (
	"context"
	"fmt"
)

// Noop performs no mutation and always reports success. It lets the
// orchestration loop run end to end without an agent installed.
type Noop struct{}

func (Noop) ID() string { return NoopID }

func (Noop) Implement(ctx context.Context, _ Env, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Message: fmt.Sprintf("noop: %s iteration %d", in.Task.ID, in.Iteration)}, nil
}
