package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jobrover/jobrover/internal/scan"
)

// SourceStore keeps configured sources in memory.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]scan.Source
}

// NewSourceStore constructs a SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string]scan.Source)}
}

// AddSource registers a source.
func (s *SourceStore) AddSource(_ context.Context, source scan.Source) error {
	if source.ID == "" {
		return fmt.Errorf("memory source store: source id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.ID] = source
	return nil
}

// ListSources returns the user's sources, optionally filtered by IDs.
func (s *SourceStore) ListSources(_ context.Context, userID string, ids []string) ([]scan.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var out []scan.Source
	for _, source := range s.sources {
		if source.UserID != userID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[source.ID]; !ok {
				continue
			}
		}
		out = append(out, source)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveFingerprint overwrites a source's cached fingerprint. It never
// merges with the previous value.
func (s *SourceStore) SaveFingerprint(_ context.Context, sourceID string, fp scan.FingerprintResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("memory source store: source %q not found", sourceID)
	}
	source.Fingerprint = fp
	source.LastFingerprintedAt = &at
	s.sources[sourceID] = source
	return nil
}
