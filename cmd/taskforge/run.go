package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		taskID      string
		backendID   string
		mode        string
		metricsFile string
		stream      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the task graph (or one task)",
		Long: `Execute every task in dependency order, stopping at the first task that does
not finish. With --task only that task runs and dependencies are not checked.

Exit codes:
  0  every task done
  1  internal error (ledger failure, interrupted)
  2  budget limit or hard cap reached
  3  stuck, or iterations exhausted
  4  configuration error (spec, unknown task, graph, setup, workspace)
  5  backend error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, repo, err := c.loadProject()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend") {
				p.Defaults.Backend = backendID
			}
			if cmd.Flags().Changed("workspace") {
				m := spec.WorkspaceMode(mode)
				if m != spec.WorkspacePatch && m != spec.WorkspaceWorktree {
					return exitWith(engine.ExitConfig, fmt.Errorf("--workspace must be %q or %q", spec.WorkspacePatch, spec.WorkspaceWorktree))
				}
				p.Defaults.WorkspaceMode = m
			}
			if !cmd.Flags().Changed("metrics-file") {
				metricsFile = c.settings.MetricsFile
			}
			if !cmd.Flags().Changed("stream") {
				stream = c.settings.Stream
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := engine.Options{
				RepoRoot:    repo,
				StateDir:    c.settings.StateDir,
				Project:     p,
				TaskID:      taskID,
				Logger:      c.log,
				MetricsFile: metricsFile,
			}
			if stream {
				opts.Stream = c.stderr
			}
			out, err := engine.Run(ctx, opts)
			if err != nil {
				var ce *engine.ConfigError
				var ut *engine.UnknownTaskError
				if errors.As(err, &ce) || errors.As(err, &ut) {
					return exitWith(engine.ExitConfig, err)
				}
				return exitWith(out.ExitCode, err)
			}
			c.printOutcome(out)
			if out.ExitCode != engine.ExitSuccess {
				return exitWith(out.ExitCode, nil)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&taskID, "task", "", "run only this task")
	f.StringVar(&backendID, "backend", "", "override defaults.backend")
	f.StringVar(&mode, "workspace", "", "override defaults.workspace_mode (patch or worktree)")
	f.StringVar(&metricsFile, "metrics-file", "", "write run metrics in Prometheus textfile format")
	f.BoolVar(&stream, "stream", false, "echo backend output to stderr")
	return cmd
}

func (c *cli) printOutcome(out engine.Outcome) {
	for _, t := range out.Tasks {
		line := fmt.Sprintf("%-24s %-8s iterations=%d", t.TaskID, t.Status, t.Iterations)
		if t.Reason != "" {
			line += "  " + t.Reason
		}
		fmt.Fprintln(c.stdout, line)
	}
	fmt.Fprintf(c.stdout, "run %s: %s (exit %d)\n", out.RunID, out.Status, out.ExitCode)
	if out.Reason != "" {
		fmt.Fprintf(c.stdout, "reason: %s\n", out.Reason)
	}
}
