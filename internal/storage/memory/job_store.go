// Package memory provides in-memory persistence for development and
// testing. Semantics mirror the Postgres implementations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jobrover/jobrover/internal/scan"
)

// JobStore keeps canonical jobs keyed by dedupe key.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scan.CanonicalJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scan.CanonicalJob)}
}

// UpsertJob inserts or replaces a job by dedupe key. Replacement is
// full-row except posted_at, which keeps its first non-nil value.
func (s *JobStore) UpsertJob(_ context.Context, job scan.CanonicalJob) (bool, error) {
	if job.DedupeKey == "" {
		return false, fmt.Errorf("memory job store: dedupe key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.jobs[job.DedupeKey]
	if exists && job.PostedAt == nil {
		job.PostedAt = existing.PostedAt
	}
	s.jobs[job.DedupeKey] = job
	return !exists, nil
}

// GetJob fetches a job by dedupe key.
func (s *JobStore) GetJob(_ context.Context, dedupeKey string) (scan.CanonicalJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[dedupeKey]
	if !ok {
		return scan.CanonicalJob{}, fmt.Errorf("memory job store: job %q not found", dedupeKey)
	}
	return job, nil
}

// ListJobs returns up to limit jobs ordered by last seen, newest
// first. A non-positive limit means no cap.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]scan.CanonicalJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scan.CanonicalJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
