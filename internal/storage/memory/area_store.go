package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// AreaStore holds registered areas in memory.
type AreaStore struct {
	mu    sync.RWMutex
	areas map[string]nightlight.Area
	names map[string]string
}

// NewAreaStore constructs an AreaStore.
func NewAreaStore() *AreaStore {
	return &AreaStore{
		areas: make(map[string]nightlight.Area),
		names: make(map[string]string),
	}
}

// Create registers an area; names are unique.
func (s *AreaStore) Create(_ context.Context, area nightlight.Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.areas[area.ID]; exists {
		return fmt.Errorf("area %s already exists", area.ID)
	}
	if _, taken := s.names[area.Name]; taken {
		return fmt.Errorf("area name %q already in use", area.Name)
	}
	s.areas[area.ID] = area
	s.names[area.Name] = area.ID
	return nil
}

// Get fetches an area by ID.
func (s *AreaStore) Get(_ context.Context, areaID string) (nightlight.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	area, ok := s.areas[areaID]
	if !ok {
		return nightlight.Area{}, fmt.Errorf("area %s: %w", areaID, nightlight.ErrNotFound)
	}
	return area, nil
}

// List returns all areas.
func (s *AreaStore) List(_ context.Context) ([]nightlight.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]nightlight.Area, 0, len(s.areas))
	for _, a := range s.areas {
		out = append(out, a)
	}
	return out, nil
}
