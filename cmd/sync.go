package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/connmon"
	"github.com/marcus/till/internal/engine"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())
		client := newRemoteClient()

		// One-shot invocation: probe reachability directly, no settle window
		monitor := connmon.New(q, 0)
		ctx := context.Background()
		probeCtx, cancel := context.WithTimeout(ctx, config.GetSubmitTimeout())
		err = client.Health(probeCtx)
		cancel()
		if err != nil {
			monitor.Handle(connmon.SignalDown)
			return fmt.Errorf("server unreachable: %w", err)
		}
		monitor.Handle(connmon.SignalUp)

		eng := engine.New(q, s, client, monitor, enginePolicy())
		stats, err := eng.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		if stats == nil {
			output.Warning("a sync cycle is already running")
			return nil
		}

		output.Success("Synced: %d done, %d failed, %d rejected, %d corrupted (%d selected)",
			stats.Done, stats.Failed, stats.Rejected, stats.Corrupted, stats.Selected)
		if stats.Stopped {
			output.Warning("cycle stopped early: connection lost")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
