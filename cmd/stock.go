package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
)

var (
	stockProduct  string
	stockLocation string
	stockDelta    int
	stockReason   string
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Record a stock adjustment (works offline)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stockProduct == "" {
			return fmt.Errorf("--product is required")
		}
		if stockDelta == 0 {
			return fmt.Errorf("--delta must be non-zero")
		}
		if stockReason == "" {
			return fmt.Errorf("--reason is required")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())
		id, err := q.EnqueueStockAdjustment(models.StockAdjustmentPayload{
			ProductID:  stockProduct,
			LocationID: stockLocation,
			Delta:      stockDelta,
			Reason:     stockReason,
		})
		if err != nil {
			return fmt.Errorf("record stock adjustment: %w", err)
		}

		output.Success("Recorded stock adjustment %s", id)
		return nil
	},
}

func init() {
	stockCmd.Flags().StringVar(&stockProduct, "product", "", "product id")
	stockCmd.Flags().StringVar(&stockLocation, "location", "", "location id")
	stockCmd.Flags().IntVar(&stockDelta, "delta", 0, "stock delta (positive or negative)")
	stockCmd.Flags().StringVar(&stockReason, "reason", "", "adjustment reason")
	rootCmd.AddCommand(stockCmd)
}
