// Package cache maintains versioned read caches of remote reference data
// (products, stock levels) so lookups keep working offline. Entries are
// replaced wholesale, never field-merged, and a refresh carrying an equal
// or lower version than the stored entry is discarded.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/remote"
	"github.com/marcus/till/internal/store"
)

// Fetcher fetches current reference data from the remote authority.
// Satisfied by *remote.Client.
type Fetcher interface {
	FetchProducts(ctx context.Context) (*remote.FetchResult, error)
	FetchStock(ctx context.Context) (*remote.FetchResult, error)
}

// Manager owns the read-side caches.
type Manager struct {
	store   *store.Store
	fetcher Fetcher
}

// New creates a cache manager over the given store.
func New(s *store.Store, f Fetcher) *Manager {
	return &Manager{store: s, fetcher: f}
}

// StockKey builds the composite cache key for a stock level.
func StockKey(productID, locationID string) string {
	if locationID == "" {
		locationID = "default"
	}
	return productID + "@" + locationID
}

// Refresh fetches current remote state for region and applies it entry by
// entry, replacing wholesale only where the remote version is strictly
// newer. Returns the number of entries updated.
func (m *Manager) Refresh(ctx context.Context, region store.Region) (int, error) {
	var result *remote.FetchResult
	var err error

	switch region {
	case store.RegionProducts:
		result, err = m.fetcher.FetchProducts(ctx)
	case store.RegionStock:
		result, err = m.fetcher.FetchStock(ctx)
	default:
		return 0, fmt.Errorf("region %s is not a cache region", region)
	}
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", region, err)
	}

	updated := 0
	for _, entry := range result.Entries {
		replaced, err := m.apply(region, entry)
		if err != nil {
			return updated, err
		}
		if replaced {
			updated++
		}
	}

	slog.Debug("cache: refreshed", "region", region, "entries", len(result.Entries), "updated", updated)
	return updated, nil
}

// apply stores one entry if it is strictly newer than the cached one.
func (m *Manager) apply(region store.Region, entry remote.Entry) (bool, error) {
	current, err := m.Read(region, entry.Key)
	if err == nil && current.Version >= entry.Version {
		return false, nil // idempotent refresh: equal or older versions are discarded
	}

	cached := models.CachedEntity{
		Key:      entry.Key,
		Data:     entry.Data,
		CachedAt: time.Now().UTC(),
		Version:  entry.Version,
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return false, fmt.Errorf("encode cache entry %s: %w", entry.Key, err)
	}
	if err := m.store.Put(region, entry.Key, data); err != nil {
		return false, fmt.Errorf("store cache entry %s: %w", entry.Key, err)
	}
	return true, nil
}

// Read serves the cached value if present, regardless of connectivity.
func (m *Manager) Read(region store.Region, key string) (*models.CachedEntity, error) {
	data, err := m.store.Get(region, key)
	if err != nil {
		return nil, err
	}
	var entity models.CachedEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &entity, nil
}

// ReadAll returns every cached entity in region, ordered by key.
func (m *Manager) ReadAll(region store.Region) ([]models.CachedEntity, error) {
	values, err := m.store.ListValues(region)
	if err != nil {
		return nil, err
	}
	entities := make([]models.CachedEntity, 0, len(values))
	for _, v := range values {
		var entity models.CachedEntity
		if err := json.Unmarshal(v, &entity); err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Prune removes cache entries not refreshed within maxAge. Returns the
// number of entries removed.
func (m *Manager) Prune(region store.Region, maxAge time.Duration) (int64, error) {
	return m.store.DeleteOlderThan(region, time.Now().Add(-maxAge))
}
