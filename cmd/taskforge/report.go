package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/artifacts"
	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

const defaultReportEvents = 500

func (c *cli) reportCmd() *cobra.Command {
	var (
		runID string
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a markdown report of a run",
		Long: `Render a run (the latest by default) as markdown: outcome, task table, spend
and its most recent ledger events. Written to stdout unless --out is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return exitWith(engine.ExitConfig, fmt.Errorf("--events must be positive"))
			}
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
			all, err := store.EventsAfter(ctx, run.ID, 0)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			recent := all
			if len(recent) > limit {
				recent = recent[len(recent)-limit:]
			}
			md := artifacts.RenderReport(run, tasks, ledger.AggregateSpend(all, run.BackendID), recent)

			if out == "" {
				fmt.Fprint(c.stdout, md)
				return nil
			}
			abs, err := filepath.Abs(out)
			if err != nil {
				return exitWith(engine.ExitConfig, err)
			}
			if err := os.WriteFile(abs, []byte(md), 0o644); err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			fmt.Fprintf(c.stdout, "wrote %s\n", abs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run", "", "run id (default: latest)")
	f.StringVarP(&out, "out", "o", "", "write the report to this file")
	f.IntVar(&limit, "events", defaultReportEvents, "number of most recent ledger events to include")
	return cmd
}
