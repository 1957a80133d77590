package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/artifacts"
	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

type budgetReport struct {
	RunID string             `json:"run_id"`
	Spend ledger.SpendReport `json:"spend"`
}

func (c *cli) budgetCmd() *cobra.Command {
	var (
		runID  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show a run's spend by task, backend and phase",
		Long: `Show the spend of a run (the latest by default), aggregated from its usage
events. The text form matches the BUDGET.md artifact.`,
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
			events, err := store.EventsAfter(ctx, run.ID, 0)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			rep := budgetReport{RunID: run.ID, Spend: ledger.AggregateSpend(events, run.BackendID)}
			if asJSON {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprint(c.stdout, artifacts.RenderBudget(rep.Spend))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
