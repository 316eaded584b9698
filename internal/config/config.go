// Package config holds the layered client configuration. Every accessor
// resolves environment variable > config.json > built-in default, so a
// deployment can pin policy without rebuilding and a shell can override
// it per invocation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SyncPolicy holds the replay policy parameters consumed by the queue and
// the sync engine.
type SyncPolicy struct {
	RetryCap      int    `json:"retry_cap,omitempty"`
	BackoffBase   string `json:"backoff_base,omitempty"`
	BackoffMax    string `json:"backoff_max,omitempty"`
	BatchQuota    int    `json:"batch_quota,omitempty"`
	SubmitTimeout string `json:"submit_timeout,omitempty"`
	Interval      string `json:"interval,omitempty"`
	SettleWindow  string `json:"settle_window,omitempty"`
}

// BackupPolicy holds snapshot scheduling and retention settings.
type BackupPolicy struct {
	Interval  string `json:"interval,omitempty"`
	Retention int    `json:"retention,omitempty"`
}

// Config is the global till config stored at ~/.config/till/config.json.
type Config struct {
	ServerURL string       `json:"server_url,omitempty"`
	APIKey    string       `json:"api_key,omitempty"`
	MaxBytes  int64        `json:"max_bytes,omitempty"`
	Sync      SyncPolicy   `json:"sync"`
	Backup    BackupPolicy `json:"backup"`
}

const defaultServerURL = "http://localhost:8080"

// Built-in policy defaults.
const (
	DefaultRetryCap        = 5
	DefaultBackoffBase     = 2 * time.Second
	DefaultBackoffMax      = 5 * time.Minute
	DefaultBatchQuota      = 25
	DefaultSubmitTimeout   = 10 * time.Second
	DefaultSyncInterval    = time.Minute
	DefaultSettleWindow    = 3 * time.Second
	DefaultBackupInterval  = 30 * time.Minute
	DefaultBackupRetention = 10
)

// ConfigDir returns ~/.config/till, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "till")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the global config from ~/.config/till/config.json.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to ~/.config/till/config.json.
func Save(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0600)
}

// GetServerURL returns the remote authority base URL.
// Priority: TILL_SERVER_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("TILL_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key for the remote authority.
// Priority: TILL_API_KEY env > config.json.
func GetAPIKey() string {
	if v := os.Getenv("TILL_API_KEY"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil {
		return cfg.APIKey
	}
	return ""
}

// GetMaxBytes returns the store capacity limit in bytes.
// Priority: TILL_MAX_BYTES env > config.json > 0 (store default applies).
func GetMaxBytes() int64 {
	if v := os.Getenv("TILL_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.MaxBytes > 0 {
		return cfg.MaxBytes
	}
	return 0
}

// GetRetryCap returns the automatic retry cap per transaction.
// Priority: TILL_RETRY_CAP env > config.json sync.retry_cap > 5.
func GetRetryCap() int {
	if v := os.Getenv("TILL_RETRY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Sync.RetryCap > 0 {
		return cfg.Sync.RetryCap
	}
	return DefaultRetryCap
}

// GetBatchQuota returns the per-priority-class quota per sync cycle.
// Priority: TILL_BATCH_QUOTA env > config.json sync.batch_quota > 25.
func GetBatchQuota() int {
	if v := os.Getenv("TILL_BATCH_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Sync.BatchQuota > 0 {
		return cfg.Sync.BatchQuota
	}
	return DefaultBatchQuota
}

// GetBackoffBase returns the base delay of the retry backoff curve.
func GetBackoffBase() time.Duration {
	return durationSetting("TILL_BACKOFF_BASE", func(c *Config) string { return c.Sync.BackoffBase }, DefaultBackoffBase)
}

// GetBackoffMax returns the cap of the retry backoff curve.
func GetBackoffMax() time.Duration {
	return durationSetting("TILL_BACKOFF_MAX", func(c *Config) string { return c.Sync.BackoffMax }, DefaultBackoffMax)
}

// GetSubmitTimeout returns the bounded wait per remote submission.
func GetSubmitTimeout() time.Duration {
	return durationSetting("TILL_SUBMIT_TIMEOUT", func(c *Config) string { return c.Sync.SubmitTimeout }, DefaultSubmitTimeout)
}

// GetSyncInterval returns the periodic safety-net cycle interval.
func GetSyncInterval() time.Duration {
	return durationSetting("TILL_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Interval }, DefaultSyncInterval)
}

// GetSettleWindow returns the duration a raw up signal must remain stable
// before the monitor reports online.
func GetSettleWindow() time.Duration {
	return durationSetting("TILL_SETTLE_WINDOW", func(c *Config) string { return c.Sync.SettleWindow }, DefaultSettleWindow)
}

// GetBackupInterval returns the automatic snapshot interval.
func GetBackupInterval() time.Duration {
	return durationSetting("TILL_BACKUP_INTERVAL", func(c *Config) string { return c.Backup.Interval }, DefaultBackupInterval)
}

// GetBackupRetention returns the number of auto backups kept.
// Priority: TILL_BACKUP_RETENTION env > config.json backup.retention > 10.
func GetBackupRetention() int {
	if v := os.Getenv("TILL_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Backup.Retention > 0 {
		return cfg.Backup.Retention
	}
	return DefaultBackupRetention
}

// durationSetting resolves a duration-valued setting in env > file > default order.
func durationSetting(envKey string, fromConfig func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := Load()
	if err == nil {
		if raw := strings.TrimSpace(fromConfig(cfg)); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				return d
			}
		}
	}
	return def
}
