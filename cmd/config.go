package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/output"
)

// validConfigKeys lists the supported config keys for set/get.
var validConfigKeys = []string{
	"server.url",
	"server.api_key",
	"store.max_bytes",
	"sync.retry_cap",
	"sync.backoff_base",
	"sync.backoff_max",
	"sync.batch_quota",
	"sync.submit_timeout",
	"sync.interval",
	"sync.settle_window",
	"backup.interval",
	"backup.retention",
}

func isValidConfigKey(key string) bool {
	for _, k := range validConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

func parseConfigInt(val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %v", val, err)
	}
	return n, nil
}

func parseConfigDuration(val string) (string, error) {
	if _, err := time.ParseDuration(val); err != nil {
		return "", fmt.Errorf("invalid duration %q (use forms like 30s, 5m): %v", val, err)
	}
	return val, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage till configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if !isValidConfigKey(key) {
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch key {
		case "server.url":
			cfg.ServerURL = val
		case "server.api_key":
			cfg.APIKey = val
		case "store.max_bytes":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int value %q: %v", val, err)
			}
			cfg.MaxBytes = n
		case "sync.retry_cap":
			n, err := parseConfigInt(val)
			if err != nil {
				return err
			}
			cfg.Sync.RetryCap = n
		case "sync.backoff_base":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Sync.BackoffBase = d
		case "sync.backoff_max":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Sync.BackoffMax = d
		case "sync.batch_quota":
			n, err := parseConfigInt(val)
			if err != nil {
				return err
			}
			cfg.Sync.BatchQuota = n
		case "sync.submit_timeout":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Sync.SubmitTimeout = d
		case "sync.interval":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Sync.Interval = d
		case "sync.settle_window":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Sync.SettleWindow = d
		case "backup.interval":
			d, err := parseConfigDuration(val)
			if err != nil {
				return err
			}
			cfg.Backup.Interval = d
		case "backup.retention":
			n, err := parseConfigInt(val)
			if err != nil {
				return err
			}
			cfg.Backup.Retention = n
		}

		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		if !isValidConfigKey(key) {
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}

		var val string
		switch key {
		case "server.url":
			val = config.GetServerURL()
		case "server.api_key":
			val = config.GetAPIKey()
		case "store.max_bytes":
			val = strconv.FormatInt(config.GetMaxBytes(), 10)
		case "sync.retry_cap":
			val = strconv.Itoa(config.GetRetryCap())
		case "sync.backoff_base":
			val = config.GetBackoffBase().String()
		case "sync.backoff_max":
			val = config.GetBackoffMax().String()
		case "sync.batch_quota":
			val = strconv.Itoa(config.GetBatchQuota())
		case "sync.submit_timeout":
			val = config.GetSubmitTimeout().String()
		case "sync.interval":
			val = config.GetSyncInterval().String()
		case "sync.settle_window":
			val = config.GetSettleWindow().String()
		case "backup.interval":
			val = config.GetBackupInterval().String()
		case "backup.retention":
			val = strconv.Itoa(config.GetBackupRetention())
		}

		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		fmt.Println(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}
