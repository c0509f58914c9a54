package engine

import "sync"

// runRegistry tracks in-flight plans so they can be cancelled from the
// outside. Cancellation is applied at step boundaries; releasing the
// run context lets a blocked step return early, and the engine records
// a terminal status for it.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	cancel    func()
	cancelled bool
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runHandle)}
}

func (r *runRegistry) add(planID string, cancel func()) *runHandle {
	h := &runHandle{cancel: cancel}
	r.mu.Lock()
	r.runs[planID] = h
	r.mu.Unlock()
	return h
}

func (r *runRegistry) remove(planID string) {
	r.mu.Lock()
	delete(r.runs, planID)
	r.mu.Unlock()
}

// cancel marks the plan cancelled and releases its context. Returns
// false when the plan is not currently running.
func (r *runRegistry) cancel(planID string) bool {
	r.mu.Lock()
	h, ok := r.runs[planID]
	if ok {
		h.cancelled = true
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

func (r *runRegistry) isCancelled(planID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[planID]
	return ok && h.cancelled
}
