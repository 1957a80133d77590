package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
	"github.com/danshapiro/taskforge/internal/taskforge/workspace"
)

func (c *cli) checkpointCmd() *cobra.Command {
	var taskID, message string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Commit the working tree as a manual checkpoint of a task",
		Long: `Stage every change outside the state directory and commit it on the current
branch as "[taskforge] <task>: <message>". Prints the resulting commit; with
nothing to commit that is the current HEAD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(taskID) == "" || strings.TrimSpace(message) == "" {
				return exitWith(engine.ExitConfig, fmt.Errorf("--task and --message are required"))
			}
			repo, err := c.currentRepo()
			if err != nil {
				return err
			}
			ws, err := workspace.New(spec.WorkspacePatch, workspace.Options{
				RepoRoot: repo,
				StateDir: c.settings.StateDir,
				Logger:   c.log,
			})
			if err != nil {
				return exitWith(engine.ExitConfig, err)
			}
			ref, err := ws.Checkpoint(taskID, message)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			fmt.Fprintf(c.stdout, "checkpoint %s\n", ref)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id the checkpoint belongs to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "checkpoint message")
	return cmd
}
