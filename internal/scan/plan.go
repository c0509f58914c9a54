package scan

import "time"

// StepStatus represents the lifecycle state of a workflow step.
type StepStatus string

// Step status values persisted with the plan.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// PlanStatus represents the lifecycle state of a workflow plan.
type PlanStatus string

// Plan status values.
const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// StepKind identifies what a workflow step does. Step payloads are a
// tagged union keyed by kind.
type StepKind string

// Step kinds in canonical execution order.
const (
	StepScraping   StepKind = "scraping"
	StepExtracting StepKind = "extracting"
	StepMatching   StepKind = "matching"
	StepWriting    StepKind = "writing"
	StepBlueprint  StepKind = "blueprint"
	StepDone       StepKind = "done"
)

// WorkflowStep is one unit of pipeline work. Created when the plan is
// built; only the engine transitions its status. Steps are never
// deleted, the list is the audit trail.
type WorkflowStep struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Kind        StepKind    `json:"kind"`
	Agent       string      `json:"agent"`
	Status      StepStatus  `json:"status"`
	Skippable   bool        `json:"skippable"`
	MaxRetries  int         `json:"max_retries"`
	Input       StepPayload `json:"input,omitempty"`
	Output      StepPayload `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Terminal reports whether the step has reached a terminal status.
func (s WorkflowStep) Terminal() bool {
	switch s.Status {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// WorkflowPlan is the aggregate root for one scan run. Step order is
// the execution order and is fixed at creation.
type WorkflowPlan struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	UserID      string         `json:"user_id"`
	Steps       []WorkflowStep `json:"steps"`
	Status      PlanStatus     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CurrentStep returns the index of the first non-terminal step, or -1
// when every step is terminal.
func (p *WorkflowPlan) CurrentStep() int {
	for i := range p.Steps {
		if !p.Steps[i].Terminal() {
			return i
		}
	}
	return -1
}

// DeriveStatus computes the terminal plan status from its steps:
// completed iff every step is completed or skipped, failed iff any
// step failed. Cancellation is applied by the engine, not derived.
func (p *WorkflowPlan) DeriveStatus() PlanStatus {
	for i := range p.Steps {
		if p.Steps[i].Status == StepFailed {
			return PlanFailed
		}
	}
	for i := range p.Steps {
		switch p.Steps[i].Status {
		case StepCompleted, StepSkipped:
		default:
			return PlanRunning
		}
	}
	return PlanCompleted
}
