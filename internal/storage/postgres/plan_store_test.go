package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/scan"
)

func samplePlan() *scan.WorkflowPlan {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &scan.WorkflowPlan{
		ID:        "plan-1",
		Name:      "scan",
		UserID:    "u1",
		Status:    scan.PlanPending,
		CreatedAt: created,
		UpdatedAt: created,
		Steps: []scan.WorkflowStep{
			{
				ID:     "step-1",
				Name:   "scraping",
				Kind:   scan.StepScraping,
				Agent:  "scraper",
				Status: scan.StepPending,
				Input:  scan.ScrapeInput{SourceIDs: []string{"src-1"}},
			},
			{
				ID:        "step-2",
				Name:      "done",
				Kind:      scan.StepDone,
				Agent:     "engine",
				Status:    scan.StepPending,
				Skippable: true,
			},
		},
	}
}

func TestPlanStore_CreatePlan(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlanStore(mock)
	require.NoError(t, err)

	plan := samplePlan()
	mock.ExpectExec("INSERT INTO plans").
		WithArgs(plan.ID, plan.Name, plan.Description, plan.UserID,
			string(plan.Status), plan.CreatedAt, plan.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i, step := range plan.Steps {
		input, merr := scan.MarshalPayload(step.Input)
		require.NoError(t, merr)
		output, merr := scan.MarshalPayload(step.Output)
		require.NoError(t, merr)
		mock.ExpectExec("INSERT INTO plan_steps").
			WithArgs(plan.ID, step.ID, i, step.Name, string(step.Kind), step.Agent,
				string(step.Status), step.Skippable, step.MaxRetries,
				input, output, step.Error, step.StartedAt, step.CompletedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, store.CreatePlan(context.Background(), plan))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanStore_UpdatePlanStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlanStore(mock)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE plans SET status").
		WithArgs("plan-1", "running", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdatePlanStatus(context.Background(), "plan-1", scan.PlanRunning, at))

	mock.ExpectExec("UPDATE plans SET status").
		WithArgs("missing", "running", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.Error(t, store.UpdatePlanStatus(context.Background(), "missing", scan.PlanRunning, at))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanStore_UpdateStep(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlanStore(mock)
	require.NoError(t, err)

	started := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	step := scan.WorkflowStep{
		ID:        "step-1",
		Status:    scan.StepCompleted,
		Output:    scan.ScrapeOutput{Sources: []scan.SourceScrapeResult{{SourceID: "src-1", JobsFetched: 3}}},
		StartedAt: &started,
	}
	input, err := scan.MarshalPayload(step.Input)
	require.NoError(t, err)
	output, err := scan.MarshalPayload(step.Output)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE plan_steps SET").
		WithArgs("plan-1", step.ID, string(step.Status), input, output,
			step.Error, step.StartedAt, step.CompletedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStep(context.Background(), "plan-1", step))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanStore_GetPlan(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPlanStore(mock)
	require.NoError(t, err)

	plan := samplePlan()
	mock.ExpectQuery("SELECT id, name, description, user_id, status, created_at, updated_at FROM plans").
		WithArgs(plan.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "description", "user_id", "status", "created_at", "updated_at",
		}).AddRow(plan.ID, plan.Name, plan.Description, plan.UserID,
			string(plan.Status), plan.CreatedAt, plan.UpdatedAt))

	output, err := scan.MarshalPayload(scan.ScrapeOutput{
		Sources: []scan.SourceScrapeResult{{SourceID: "src-1", JobsFetched: 3}},
	})
	require.NoError(t, err)
	stepRows := pgxmock.NewRows([]string{
		"step_id", "name", "kind", "agent", "status", "skippable", "max_retries",
		"input", "output", "error", "started_at", "completed_at",
	}).
		AddRow("step-1", "scraping", "scraping", "scraper", "completed", false, 0,
			[]byte("null"), output, "", (*time.Time)(nil), (*time.Time)(nil)).
		AddRow("step-2", "done", "done", "engine", "pending", true, 0,
			[]byte("null"), []byte("null"), "", (*time.Time)(nil), (*time.Time)(nil))
	mock.ExpectQuery("FROM plan_steps WHERE plan_id").
		WithArgs(plan.ID).
		WillReturnRows(stepRows)

	got, err := store.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, plan.ID, got.ID)
	require.Len(t, got.Steps, 2)
	require.Equal(t, scan.StepCompleted, got.Steps[0].Status)
	out, ok := got.Steps[0].Output.(scan.ScrapeOutput)
	require.True(t, ok)
	require.Equal(t, 3, out.Sources[0].JobsFetched)
	require.Nil(t, got.Steps[1].Output)
	require.NoError(t, mock.ExpectationsWereMet())
}
