package backup

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotAndList(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 10)

	s.Put(store.RegionPending, "tx-1", []byte(`{"id":"tx-1"}`))
	s.Put(store.RegionProducts, "sku-1", []byte(`{"name":"Widget"}`))

	b, err := m.Snapshot(models.BackupManual)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if b.ID == "" || b.Timestamp.IsZero() {
		t.Error("backup missing id or timestamp")
	}
	if b.Type != models.BackupManual {
		t.Errorf("Type = %s, want manual", b.Type)
	}

	// The snapshot must not include the backups region itself
	var contents map[store.Region]map[string][]byte
	if err := json.Unmarshal(b.Payload, &contents); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := contents[store.RegionBackups]; ok {
		t.Error("snapshot captured the backups region")
	}
	if string(contents[store.RegionPending]["tx-1"]) != `{"id":"tx-1"}` {
		t.Error("snapshot missed pending data")
	}

	list, err := m.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("ListBackups = %d entries", len(list))
	}
}

func TestListBackupsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 10)

	// Store backups with distinct timestamps directly
	for i, age := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		b := models.LocalBackup{
			ID:        string(rune('a' + i)),
			Timestamp: time.Now().UTC().Add(-age),
			Type:      models.BackupManual,
			Payload:   []byte(`{}`),
		}
		data, _ := json.Marshal(b)
		s.Put(store.RegionBackups, b.ID, data)
	}

	list, err := m.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d backups", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].Timestamp.After(list[i-1].Timestamp) {
			t.Error("backups not sorted newest first")
		}
	}
}

func TestRetentionEvictsOldestAutos(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 2)

	seed := func(id string, btype models.BackupType, age time.Duration) {
		b := models.LocalBackup{
			ID:        id,
			Timestamp: time.Now().UTC().Add(-age),
			Type:      btype,
			Payload:   []byte(`{}`),
		}
		data, _ := json.Marshal(b)
		s.Put(store.RegionBackups, id, data)
	}

	seed("auto-old", models.BackupAuto, 3*time.Hour)
	seed("auto-mid", models.BackupAuto, 2*time.Hour)
	seed("manual-oldest", models.BackupManual, 4*time.Hour)

	// A new auto snapshot pushes the auto count past retention
	if _, err := m.Snapshot(models.BackupAuto); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if _, err := s.Get(store.RegionBackups, "auto-old"); !errors.Is(err, store.ErrNotFound) {
		t.Error("oldest auto backup not evicted")
	}
	if _, err := s.Get(store.RegionBackups, "auto-mid"); err != nil {
		t.Errorf("auto backup within retention evicted: %v", err)
	}
	// Manual backups are never evicted, even when older than every auto
	if _, err := s.Get(store.RegionBackups, "manual-oldest"); err != nil {
		t.Errorf("manual backup evicted: %v", err)
	}
}

func TestManualSnapshotSkipsRetention(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 1)

	for i := 0; i < 3; i++ {
		if _, err := m.Snapshot(models.BackupManual); err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
	}

	list, _ := m.ListBackups()
	if len(list) != 3 {
		t.Errorf("manual snapshots evicted: %d left, want 3", len(list))
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 10)

	s.Put(store.RegionPending, "tx-1", []byte("original"))
	s.Put(store.RegionProducts, "sku-1", []byte("widget"))

	b, err := m.Snapshot(models.BackupManual)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// Diverge from the snapshotted state
	s.Put(store.RegionPending, "tx-2", []byte("later"))
	s.Delete(store.RegionProducts, "sku-1")

	if err := m.Restore(b.ID); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := s.Get(store.RegionPending, "tx-1")
	if err != nil || string(got) != "original" {
		t.Errorf("tx-1 after restore = %q, %v", got, err)
	}
	if _, err := s.Get(store.RegionPending, "tx-2"); !errors.Is(err, store.ErrNotFound) {
		t.Error("post-snapshot write survived restore")
	}
	if _, err := s.Get(store.RegionProducts, "sku-1"); err != nil {
		t.Errorf("deleted product not restored: %v", err)
	}

	// The restore took a pre-restore safety snapshot
	list, _ := m.ListBackups()
	if len(list) != 2 {
		t.Errorf("got %d backups after restore, want 2 (original + safety)", len(list))
	}
}

func TestRestoreUnknownID(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 10)

	if err := m.Restore("no-such-backup"); err == nil {
		t.Error("expected error restoring unknown backup")
	}
}
