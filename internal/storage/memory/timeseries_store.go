package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// TimeseriesStore holds per-(area, month) results in memory with
// last-write-wins upsert semantics.
type TimeseriesStore struct {
	mu      sync.RWMutex
	entries map[string]nightlight.TimeseriesEntry
}

// NewTimeseriesStore constructs a TimeseriesStore.
func NewTimeseriesStore() *TimeseriesStore {
	return &TimeseriesStore{entries: make(map[string]nightlight.TimeseriesEntry)}
}

// Upsert creates or overwrites the entry for (entry.AreaID, entry.Month).
func (s *TimeseriesStore) Upsert(_ context.Context, entry nightlight.TimeseriesEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AreaID+"/"+entry.Month.Key()] = entry
	return nil
}

// List returns entries for an area whose month start falls in [from, to].
func (s *TimeseriesStore) List(_ context.Context, areaID string, from, to time.Time) ([]nightlight.TimeseriesEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []nightlight.TimeseriesEntry
	for _, e := range s.entries {
		if e.AreaID != areaID {
			continue
		}
		start := e.Month.Start()
		if !from.IsZero() && start.Before(from) {
			continue
		}
		if !to.IsZero() && start.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

// Len reports the number of stored entries (test helper).
func (s *TimeseriesStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
