package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobrover/jobrover/internal/scan"
)

// PlanStore keeps workflow plans in memory.
type PlanStore struct {
	mu    sync.RWMutex
	plans map[string]*scan.WorkflowPlan
}

// NewPlanStore constructs a PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]*scan.WorkflowPlan)}
}

// CreatePlan stores a new plan. Duplicate IDs are rejected.
func (s *PlanStore) CreatePlan(_ context.Context, plan *scan.WorkflowPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("memory plan store: plan id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.ID]; exists {
		return fmt.Errorf("memory plan store: plan %q already exists", plan.ID)
	}
	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

// UpdatePlanStatus sets the plan status and updated-at stamp.
func (s *PlanStore) UpdatePlanStatus(_ context.Context, planID string, status scan.PlanStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("memory plan store: plan %q not found", planID)
	}
	plan.Status = status
	plan.UpdatedAt = updatedAt
	return nil
}

// UpdateStep replaces one step of a stored plan, matched by step ID.
func (s *PlanStore) UpdateStep(_ context.Context, planID string, step scan.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("memory plan store: plan %q not found", planID)
	}
	for i := range plan.Steps {
		if plan.Steps[i].ID == step.ID {
			plan.Steps[i] = step
			return nil
		}
	}
	return fmt.Errorf("memory plan store: step %q not found in plan %q", step.ID, planID)
}

// GetPlan returns a copy of the stored plan.
func (s *PlanStore) GetPlan(_ context.Context, planID string) (*scan.WorkflowPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("memory plan store: plan %q not found", planID)
	}
	return clonePlan(plan), nil
}

func clonePlan(plan *scan.WorkflowPlan) *scan.WorkflowPlan {
	out := *plan
	out.Steps = make([]scan.WorkflowStep, len(plan.Steps))
	copy(out.Steps, plan.Steps)
	return &out
}
