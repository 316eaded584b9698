package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local store in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Initialize(getBaseDir())
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer s.Close()

		output.Success("Initialized till store in %s", getBaseDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
