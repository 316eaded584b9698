package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
)

var (
	errorsResubmit string
	errorsAck      string
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List terminal sync failures and resolve them manually",
	Long: `List transactions that sync gave up on: corrupted payloads, remote
rejections, and transport failures past the retry cap. These are never
deleted automatically.

Use --resubmit to clone one into a fresh transaction with a new id, or
--ack to discard one after review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())

		if errorsResubmit != "" {
			newID, err := q.Resubmit(errorsResubmit)
			if err != nil {
				return fmt.Errorf("resubmit: %w", err)
			}
			output.Success("Resubmitted as %s", newID)
			return nil
		}
		if errorsAck != "" {
			if err := q.Acknowledge(errorsAck); err != nil {
				return fmt.Errorf("acknowledge: %w", err)
			}
			output.Success("Acknowledged %s", errorsAck)
			return nil
		}

		errs, err := q.ListErrors()
		if err != nil {
			return fmt.Errorf("list errors: %w", err)
		}
		if len(errs) == 0 {
			fmt.Println("No terminal failures")
			return nil
		}

		for _, tx := range errs {
			fmt.Printf("%s  %-16s %-15s retries=%d  %s\n",
				tx.ID, tx.Kind, tx.ErrorClass, tx.RetryCount, tx.ErrorMessage)
		}
		return nil
	},
}

func init() {
	errorsCmd.Flags().StringVar(&errorsResubmit, "resubmit", "", "resubmit a terminal transaction as a new one")
	errorsCmd.Flags().StringVar(&errorsAck, "ack", "", "discard a terminal transaction after review")
	rootCmd.AddCommand(errorsCmd)
}
