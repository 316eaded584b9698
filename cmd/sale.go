package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
)

var (
	saleClient  string
	saleTaxID   string
	salePayment string
	saleTotal   float64
	saleItems   []string
)

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record a sale (works offline)",
	Long: `Record a sale in the local queue. The sale is durably stored before
the command returns and is replayed to the server on the next sync.

Items are given as SKU:QTY:UNIT_PRICE, e.g. --item "COFFEE-250:2:5.40".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(saleItems) == 0 {
			return fmt.Errorf("at least one --item is required")
		}

		items := make([]models.LineItem, 0, len(saleItems))
		for _, raw := range saleItems {
			item, err := parseLineItem(raw)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		total := saleTotal
		if total == 0 {
			for _, it := range items {
				total += float64(it.Quantity) * it.UnitPrice
			}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		q := queue.New(s, queuePolicy())
		id, err := q.EnqueueSale(models.SalePayload{
			ClientName:    saleClient,
			ClientTaxID:   saleTaxID,
			Items:         items,
			PaymentMethod: salePayment,
			Total:         total,
		})
		if err != nil {
			return fmt.Errorf("record sale: %w", err)
		}

		output.Success("Recorded sale %s", id)
		return nil
	},
}

// parseLineItem parses SKU:QTY:UNIT_PRICE.
func parseLineItem(raw string) (models.LineItem, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return models.LineItem{}, fmt.Errorf("invalid item %q: expected SKU:QTY:UNIT_PRICE", raw)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil || qty <= 0 {
		return models.LineItem{}, fmt.Errorf("invalid quantity in item %q", raw)
	}
	price, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || price < 0 {
		return models.LineItem{}, fmt.Errorf("invalid unit price in item %q", raw)
	}
	return models.LineItem{SKU: parts[0], Quantity: qty, UnitPrice: price}, nil
}

func init() {
	saleCmd.Flags().StringVar(&saleClient, "client", "", "client name")
	saleCmd.Flags().StringVar(&saleTaxID, "tax-id", "", "client tax id")
	saleCmd.Flags().StringVar(&salePayment, "payment", "cash", "payment method")
	saleCmd.Flags().Float64Var(&saleTotal, "total", 0, "sale total (default: sum of items)")
	saleCmd.Flags().StringArrayVar(&saleItems, "item", nil, "line item as SKU:QTY:UNIT_PRICE (repeatable)")
	rootCmd.AddCommand(saleCmd)
}
