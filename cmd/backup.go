package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/backup"
	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage local store snapshots",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a manual snapshot of the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		b, err := backup.New(s, config.GetBackupRetention()).Snapshot(models.BackupManual)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		output.Success("Created backup %s", b.ID)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		backups, err := backup.New(s, config.GetBackupRetention()).ListBackups()
		if err != nil {
			return fmt.Errorf("list backups: %w", err)
		}
		if len(backups) == 0 {
			fmt.Println("No backups")
			return nil
		}
		for _, b := range backups {
			fmt.Printf("%s  %-6s %s\n",
				b.ID, b.Type, b.Timestamp.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore the store from a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := backup.New(s, config.GetBackupRetention()).Restore(args[0]); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		output.Success("Restored from backup %s", args[0])
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}
