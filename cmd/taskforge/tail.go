package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

func (c *cli) tailCmd() *cobra.Command {
	var (
		runID    string
		limit    int
		follow   bool
		asJSON   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print recent ledger events of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return exitWith(engine.ExitConfig, fmt.Errorf("--interval must be positive"))
			}
			store, err := c.openLedger()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, err := findRun(ctx, store, runID)
			if err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, run.ID, limit)
			if err != nil {
				return exitWith(engine.ExitInternal, err)
			}
			var last int64
			for _, ev := range events {
				c.printEvent(ev, asJSON)
				last = ev.ID
			}
			if !follow {
				return nil
			}
			return c.follow(ctx, store, run.ID, last, interval, asJSON)
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run", "", "run id (default: latest)")
	f.IntVarP(&limit, "lines", "n", ledger.DefaultListLimit, "number of recent events")
	f.BoolVarP(&follow, "follow", "f", false, "keep printing new events until the run finishes")
	f.BoolVar(&asJSON, "json", false, "print events as JSON lines")
	f.DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

// follow polls for events after last. It returns once the run is finalized
// and fully drained, or when ctx is cancelled.
func (c *cli) follow(ctx context.Context, store *ledger.Store, runID string, last int64, interval time.Duration, asJSON bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		// Read the status first so events written just before finalization
		// are still drained below.
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return exitWith(engine.ExitInternal, err)
		}
		events, err := store.EventsAfter(ctx, runID, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return exitWith(engine.ExitInternal, err)
		}
		for _, ev := range events {
			c.printEvent(ev, asJSON)
			last = ev.ID
		}
		if run.Status != ledger.RunActive {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *cli) printEvent(ev ledger.Event, asJSON bool) {
	if asJSON {
		b, err := json.Marshal(ev)
		if err == nil {
			fmt.Fprintln(c.stdout, string(b))
		}
		return
	}
	task := ""
	if ev.TaskID != "" {
		task = " [" + ev.TaskID + "]"
	}
	fmt.Fprintf(c.stdout, "%s %-18s%s %s\n", ev.TS.Local().Format("15:04:05.000"), ev.Kind, task, ev.Message)
}
