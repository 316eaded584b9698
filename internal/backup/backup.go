// Package backup snapshots the persistent store for recovery from
// corruption. Backups are append-only: auto snapshots rotate under a
// retention cap, manual ones are never evicted automatically.
package backup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

// Manager creates and restores store snapshots.
type Manager struct {
	store     *store.Store
	retention int
}

// New creates a backup manager keeping at most retention auto backups.
func New(s *store.Store, retention int) *Manager {
	return &Manager{store: s, retention: retention}
}

// Snapshot serializes the entire store (minus the backups region itself)
// into a new immutable backup, then enforces retention on auto backups.
func (m *Manager) Snapshot(btype models.BackupType) (*models.LocalBackup, error) {
	contents, err := m.store.Export(store.RegionBackups)
	if err != nil {
		return nil, fmt.Errorf("export store: %w", err)
	}

	payload, err := json.Marshal(contents)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	b := models.LocalBackup{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      btype,
		Payload:   payload,
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	if err := m.store.Put(store.RegionBackups, b.ID, data); err != nil {
		return nil, fmt.Errorf("store backup: %w", err)
	}

	if btype == models.BackupAuto {
		if err := m.enforceRetention(); err != nil {
			return nil, err
		}
	}

	slog.Debug("backup: snapshot", "id", b.ID, "type", btype, "bytes", len(payload))
	return &b, nil
}

// ListBackups returns all backups, newest first.
func (m *Manager) ListBackups() ([]models.LocalBackup, error) {
	values, err := m.store.ListValues(store.RegionBackups)
	if err != nil {
		return nil, err
	}

	backups := make([]models.LocalBackup, 0, len(values))
	for _, v := range values {
		var b models.LocalBackup
		if err := json.Unmarshal(v, &b); err != nil {
			return nil, fmt.Errorf("decode backup: %w", err)
		}
		backups = append(backups, b)
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// Restore replaces the store contents from the given backup. A manual
// safety snapshot of the current state is taken first, so a restore can
// itself be undone.
func (m *Manager) Restore(id string) error {
	data, err := m.store.Get(store.RegionBackups, id)
	if err != nil {
		return fmt.Errorf("load backup %s: %w", id, err)
	}
	var b models.LocalBackup
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode backup %s: %w", id, err)
	}

	if _, err := m.Snapshot(models.BackupManual); err != nil {
		return fmt.Errorf("pre-restore snapshot: %w", err)
	}

	var contents map[store.Region]map[string][]byte
	if err := json.Unmarshal(b.Payload, &contents); err != nil {
		return fmt.Errorf("decode snapshot payload: %w", err)
	}

	if err := m.store.Import(contents); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}

	slog.Debug("backup: restored", "id", id, "taken", b.Timestamp)
	return nil
}

// enforceRetention evicts the oldest auto backups beyond the configured
// count. Manual backups are never evicted here.
func (m *Manager) enforceRetention() error {
	if m.retention <= 0 {
		return nil
	}

	backups, err := m.ListBackups()
	if err != nil {
		return err
	}

	var autos []models.LocalBackup
	for _, b := range backups {
		if b.Type == models.BackupAuto {
			autos = append(autos, b)
		}
	}
	if len(autos) <= m.retention {
		return nil
	}

	// ListBackups is newest first; everything past the retention count is
	// the oldest surplus
	for _, b := range autos[m.retention:] {
		if err := m.store.Delete(store.RegionBackups, b.ID); err != nil {
			return fmt.Errorf("evict backup %s: %w", b.ID, err)
		}
		slog.Debug("backup: evicted", "id", b.ID, "taken", b.Timestamp)
	}
	return nil
}
