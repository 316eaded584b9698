package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/cache"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached reference data",
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh product and stock caches from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr := cache.New(s, newRemoteClient())
		ctx := context.Background()

		for _, region := range []store.Region{store.RegionProducts, store.RegionStock} {
			updated, err := mgr.Refresh(ctx, region)
			if err != nil {
				return fmt.Errorf("refresh %s: %w", region, err)
			}
			output.Success("Refreshed %s: %d updated", region, updated)
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list [products|stock]",
	Short: "List cached reference data (works offline)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		region := store.RegionProducts
		if len(args) == 1 && args[0] == "stock" {
			region = store.RegionStock
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		entities, err := cache.New(s, nil).ReadAll(region)
		if err != nil {
			return fmt.Errorf("read cache: %w", err)
		}
		if len(entities) == 0 {
			fmt.Println("Cache is empty")
			return nil
		}
		for _, e := range entities {
			fmt.Printf("%-30s v%-8d cached %s\n",
				e.Key, e.Version, e.CachedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheRefreshCmd, cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}
