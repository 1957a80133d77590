package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

func (c *cli) planCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the execution order and effective budgets without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _, err := c.loadProject()
			if err != nil {
				return err
			}
			g, err := engine.Plan(p, taskID)
			if err != nil {
				return exitWith(engine.ExitConfig, err)
			}
			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tTASK\tPRIORITY\tDEPS\tVALIDATORS\tSPRINT\tBUDGET")
			for i, t := range g.Tasks() {
				var vids []string
				for _, v := range p.TaskValidators(t) {
					vids = append(vids, v.ID)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
					i+1, t.ID, t.Priority, orDash(strings.Join(t.Deps, ",")), orDash(strings.Join(vids, ",")),
					sprintLabel(t), budgetLabel(p.EffectiveBudget(t)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "plan only this task")
	return cmd
}

func (c *cli) validateSpecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-spec",
		Short: "Check the project spec and task graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, _, err := c.loadProject()
			if err != nil {
				return err
			}
			if _, err := engine.Plan(p, ""); err != nil {
				return exitWith(engine.ExitConfig, err)
			}
			fmt.Fprintf(c.stdout, "ok: %d task(s), %d validator(s), fingerprint %s\n", len(p.Tasks), len(p.Validators), p.Fingerprint)
			return nil
		},
	}
}

func sprintLabel(t spec.Task) string {
	if t.Sprint == nil {
		return "-"
	}
	parts := []string{}
	if t.Sprint.Size != "" {
		parts = append(parts, string(t.Sprint.Size))
	}
	if t.Sprint.Intent != "" {
		parts = append(parts, string(t.Sprint.Intent))
	}
	return orDash(strings.Join(parts, "/"))
}

// budgetLabel summarizes the optimal and hard tiers, e.g. "$0.20/$0.50 max 3".
func budgetLabel(b *spec.TaskBudget) string {
	if b == nil {
		return "-"
	}
	usd := func(t *spec.BudgetTier) string {
		if t == nil || t.USD == nil {
			return "-"
		}
		return fmt.Sprintf("$%.2f", *t.USD)
	}
	out := usd(b.Optimal) + "/" + usd(b.Hard)
	if b.Hard != nil && b.Hard.MaxIterations != nil {
		out += fmt.Sprintf(" max %d", *b.Hard.MaxIterations)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

