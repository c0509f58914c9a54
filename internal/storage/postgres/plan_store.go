package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jobrover/jobrover/internal/scan"
)

// PlanStore persists workflow plans and their steps. The step list is
// the audit trail; rows are updated in place, never deleted.
type PlanStore struct {
	pool db
}

// NewPlanStore constructs a PlanStore on an existing pool.
func NewPlanStore(pool db) (*PlanStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PlanStore{pool: pool}, nil
}

const insertPlanSQL = `
INSERT INTO plans (id, name, description, user_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`

const insertStepSQL = `
INSERT INTO plan_steps (
	plan_id, step_id, position, name, kind, agent, status, skippable,
	max_retries, input, output, error, started_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

// CreatePlan stores the plan and its full step list.
func (s *PlanStore) CreatePlan(ctx context.Context, plan *scan.WorkflowPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan store: plan id is required")
	}
	if _, err := s.pool.Exec(ctx, insertPlanSQL,
		plan.ID,
		plan.Name,
		plan.Description,
		plan.UserID,
		string(plan.Status),
		plan.CreatedAt,
		plan.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for i, step := range plan.Steps {
		input, err := scan.MarshalPayload(step.Input)
		if err != nil {
			return fmt.Errorf("marshal step input: %w", err)
		}
		output, err := scan.MarshalPayload(step.Output)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		if _, err := s.pool.Exec(ctx, insertStepSQL,
			plan.ID,
			step.ID,
			i,
			step.Name,
			string(step.Kind),
			step.Agent,
			string(step.Status),
			step.Skippable,
			step.MaxRetries,
			input,
			output,
			step.Error,
			step.StartedAt,
			step.CompletedAt,
		); err != nil {
			return fmt.Errorf("insert plan step: %w", err)
		}
	}
	return nil
}

// UpdatePlanStatus sets the plan status and updated-at stamp.
func (s *PlanStore) UpdatePlanStatus(ctx context.Context, planID string, status scan.PlanStatus, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET status = $2, updated_at = $3 WHERE id = $1`,
		planID, string(status), updatedAt)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update plan status: plan %q not found", planID)
	}
	return nil
}

const updateStepSQL = `
UPDATE plan_steps SET
	status = $3,
	input = $4,
	output = $5,
	error = $6,
	started_at = $7,
	completed_at = $8
WHERE plan_id = $1 AND step_id = $2`

// UpdateStep writes back one step's mutable fields.
func (s *PlanStore) UpdateStep(ctx context.Context, planID string, step scan.WorkflowStep) error {
	input, err := scan.MarshalPayload(step.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	output, err := scan.MarshalPayload(step.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateStepSQL,
		planID,
		step.ID,
		string(step.Status),
		input,
		output,
		step.Error,
		step.StartedAt,
		step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update plan step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update plan step: step %q not found in plan %q", step.ID, planID)
	}
	return nil
}

// GetPlan loads a plan with its steps in execution order.
func (s *PlanStore) GetPlan(ctx context.Context, planID string) (*scan.WorkflowPlan, error) {
	plan := &scan.WorkflowPlan{}
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, user_id, status, created_at, updated_at FROM plans WHERE id = $1`,
		planID,
	).Scan(&plan.ID, &plan.Name, &plan.Description, &plan.UserID, &status, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	plan.Status = scan.PlanStatus(status)

	rows, err := s.pool.Query(ctx, `
SELECT step_id, name, kind, agent, status, skippable, max_retries,
	input, output, error, started_at, completed_at
FROM plan_steps WHERE plan_id = $1 ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step       scan.WorkflowStep
			kind       string
			stepStatus string
			input      []byte
			output     []byte
		)
		if err := rows.Scan(
			&step.ID,
			&step.Name,
			&kind,
			&step.Agent,
			&stepStatus,
			&step.Skippable,
			&step.MaxRetries,
			&input,
			&output,
			&step.Error,
			&step.StartedAt,
			&step.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan step: %w", err)
		}
		step.Kind = scan.StepKind(kind)
		step.Status = scan.StepStatus(stepStatus)
		if step.Input, err = scan.UnmarshalPayload(input); err != nil {
			return nil, fmt.Errorf("decode step input: %w", err)
		}
		if step.Output, err = scan.UnmarshalPayload(output); err != nil {
			return nil, fmt.Errorf("decode step output: %w", err)
		}
		plan.Steps = append(plan.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get plan steps: %w", err)
	}
	return plan, nil
}
