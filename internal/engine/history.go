package engine

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

// ReadHistory returns the most recent replay outcomes, newest last.
// A zero or negative limit returns everything.
func ReadHistory(s *store.Store, limit int) ([]models.HistoryEntry, error) {
	values, err := s.ListValues(store.RegionHistory)
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(values))
	for _, v := range values {
		var e models.HistoryEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, e)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
