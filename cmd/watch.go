package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/backup"
	"github.com/marcus/till/internal/cache"
	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/connmon"
	"github.com/marcus/till/internal/engine"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/remote"
	"github.com/marcus/till/internal/store"
)

// probeInterval is how often the watch loop checks server reachability.
const probeInterval = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the background sync loop",
	Long: `Run the long-lived client loop: watch connectivity, replay the queue
when the server is reachable, refresh reference caches opportunistically,
and snapshot the store on the configured interval. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())
		client := newRemoteClient()
		monitor := connmon.New(q, config.GetSettleWindow())
		eng := engine.New(q, s, client, monitor, enginePolicy())
		caches := cache.New(s, client)
		backups := backup.New(s, config.GetBackupRetention())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		signals := make(chan connmon.Signal, 16)
		updates := monitor.Subscribe()
		go monitor.Run(ctx, signals)
		go probeLoop(ctx, client, signals)

		// Startup counts as a lifecycle resume: reconcile immediately
		signals <- connmon.SignalResume

		syncTicker := time.NewTicker(config.GetSyncInterval())
		defer syncTicker.Stop()
		backupTicker := time.NewTicker(config.GetBackupInterval())
		defer backupTicker.Stop()

		output.Info("Watching (ctrl-c to stop)")
		for {
			select {
			case <-ctx.Done():
				output.Info("Stopped")
				return nil

			case snap := <-updates:
				if snap.State != models.StateOnlineIdle {
					continue
				}
				runCycleAndRefresh(ctx, eng, caches, snap.Counts)

			case <-syncTicker.C:
				// Safety-net cycle in case a transition was missed
				if _, err := eng.RunCycle(ctx); err != nil {
					slog.Warn("watch: periodic cycle", "err", err)
				}

			case <-backupTicker.C:
				if _, err := backups.Snapshot(models.BackupAuto); err != nil {
					slog.Warn("watch: auto backup", "err", err)
				}
			}
		}
	},
}

// probeLoop turns server reachability into raw connectivity signals.
func probeLoop(ctx context.Context, client *remote.Client, signals chan<- connmon.Signal) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, probeInterval/2)
			err := client.Health(probeCtx)
			cancel()

			sig := connmon.SignalUp
			if err != nil {
				sig = connmon.SignalDown
			}
			select {
			case signals <- sig:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runCycleAndRefresh replays the queue and then opportunistically
// refreshes reference caches while the link is up.
func runCycleAndRefresh(ctx context.Context, eng *engine.Engine, caches *cache.Manager, counts models.QueueCounts) {
	if counts.Pending > 0 || counts.Syncing > 0 {
		if _, err := eng.RunCycle(ctx); err != nil {
			slog.Warn("watch: sync cycle", "err", err)
		}
	}
	for _, region := range []store.Region{store.RegionProducts, store.RegionStock} {
		if _, err := caches.Refresh(ctx, region); err != nil {
			slog.Debug("watch: cache refresh", "region", region, "err", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
