package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/engine"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue counts, and recent sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())
		counts, err := q.Counts()
		if err != nil {
			return fmt.Errorf("queue counts: %w", err)
		}

		client := newRemoteClient()
		probeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		reachable := client.Health(probeCtx) == nil
		cancel()

		state := models.StateOffline
		if reachable {
			state = models.StateOnlineIdle
			if counts.Syncing > 0 {
				state = models.StateSyncing
			}
		}
		fmt.Printf("Server:  %s\n", output.FormatState(state))
		fmt.Printf("Queue:   %d pending, %d syncing, %d error\n",
			counts.Pending, counts.Syncing, counts.Error)

		if errs, err := q.ListErrors(); err == nil && len(errs) > 0 {
			output.Warning("%d transaction(s) need manual review (see 'till errors')", len(errs))
		}

		if !statusVerbose {
			return nil
		}

		history, err := engine.ReadHistory(s, 20)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(history) == 0 {
			fmt.Println("History: empty")
			return nil
		}
		fmt.Println("History:")
		for _, h := range history {
			line := fmt.Sprintf("  %s  %-18s %s %s",
				h.Timestamp.Local().Format("2006-01-02 15:04:05"), h.Outcome, h.Kind, h.TransactionID)
			if h.Detail != "" {
				line += "  (" + h.Detail + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "include recent sync history")
	rootCmd.AddCommand(statusCmd)
}
