package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/procutil"
)

type statusReport struct {
	Run   *ledger.Run      `json:"run"`
	Stale bool             `json:"stale"`
	Tasks []ledger.TaskRow `json:"tasks"`
	Spend ledger.Spend     `json:"spend"`
}

func (c *cli) statusCmd() *cobra.Command {
	var (
		runID  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a run's status, tasks and spend",
		Long: `Show a run (the latest by default) with its task rows and spend totals.

A run still marked active whose recorded process is gone is reported as
"active (stale)".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openLedger()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			run, err := findRun(ctx, store, runID)
			if err != nil {
				return err
			}
			tasks, err := store.ListTasks(ctx, run.ID)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			events, err := store.EventsAfter(ctx, run.ID, 0)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			rep := statusReport{
				Run:   run,
				Stale: run.Status == ledger.RunActive && !procutil.PIDAlive(run.PID),
				Tasks: tasks,
				Spend: ledger.AggregateSpend(events, run.BackendID).Total,
			}
			if asJSON {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			c.printStatus(rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func findRun(ctx context.Context, store *ledger.Store, runID string) (*ledger.Run, error) {
	var (
		run *ledger.Run
		err error
	)
	if runID == "" {
		run, err = store.LatestRun(ctx)
	} else {
		run, err = store.GetRun(ctx, runID)
	}
	switch {
	case errors.Is(err, ledger.ErrNotFound) && runID == "":
		return nil, exitWith(engine.ExitConfig, errors.New("no runs recorded"))
	case errors.Is(err, ledger.ErrNotFound):
		return nil, exitWith(engine.ExitConfig, fmt.Errorf("run %s not found", runID))
	case err != nil:
		return nil, exitWith(engine.ExitInternal, err)
	}
	return run, nil
}

func (c *cli) printStatus(rep statusReport) {
	run := rep.Run
	status := string(run.Status)
	if rep.Stale {
		status += " (stale)"
	}
	fmt.Fprintf(c.stdout, "run:       %s\n", run.ID)
	fmt.Fprintf(c.stdout, "status:    %s\n", status)
	fmt.Fprintf(c.stdout, "backend:   %s\n", run.BackendID)
	fmt.Fprintf(c.stdout, "workspace: %s\n", run.WorkspaceMode)
	fmt.Fprintf(c.stdout, "started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(c.stdout, "finished:  %s (exit %d)\n", run.FinishedAt.Local().Format(time.RFC3339), run.ExitCode)
	}
	if run.Reason != "" {
		fmt.Fprintf(c.stdout, "reason:    %s\n", run.Reason)
	}
	fmt.Fprintf(c.stdout, "spend:     $%.4f, %d tokens, %d iterations\n\n", rep.Spend.USD, rep.Spend.Tokens, rep.Spend.Iterations)

	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tPHASE\tITERATION\tLAST ERROR")
	for _, t := range rep.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.TaskID, t.Status, t.Phase, t.Iteration, orDash(t.LastError))
	}
	_ = w.Flush()
}
