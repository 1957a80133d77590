package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/procutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

const defaultSetupTimeout = 300 * time.Second

// SetupError reports the first setup command that failed.
type SetupError struct {
	Index   int
	Command string
	Reason  string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup command [%d] %q failed: %s", e.Index, e.Command, e.Reason)
}

// runSetup runs the setup commands sequentially in dir via "sh -c" under one
// shared timeout, stopping at the first failure.
func runSetup(ctx context.Context, dir string, s spec.Setup, events *ledger.Logger) error {
	if len(s.Commands) == 0 {
		return nil
	}
	timeout := time.Duration(s.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for i, cmdStr := range s.Commands {
		cmdStr = strings.TrimSpace(cmdStr)
		if cmdStr == "" {
			continue
		}
		res, err := procutil.Run(runCtx, procutil.Command{Dir: dir, Shell: cmdStr})
		var reason string
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = fmt.Sprintf("timed out after %s", timeout)
		case err != nil:
			reason = err.Error()
		case res.TimedOut:
			reason = "timed out"
		case res.ExitCode != 0:
			reason = fmt.Sprintf("exit %d", res.ExitCode)
		}
		if reason != "" {
			_ = events.Event(ctx, "", ledger.KindSetupFailed, fmt.Sprintf("setup command [%d] failed", i), map[string]any{
				"index":   i,
				"command": cmdStr,
				"reason":  reason,
				"stdout":  strings.TrimSpace(res.Stdout),
				"stderr":  strings.TrimSpace(res.Stderr),
			})
			return &SetupError{Index: i, Command: cmdStr, Reason: reason}
		}
		if err := events.Event(ctx, "", ledger.KindSetup, fmt.Sprintf("setup command [%d] ok", i), map[string]any{
			"index":       i,
			"command":     cmdStr,
			"duration_ms": res.Duration.Milliseconds(),
		}); err != nil {
			return err
		}
	}
	return nil
}
