package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/connector"
	"github.com/jobrover/jobrover/internal/metrics"
	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/progress"
	"github.com/jobrover/jobrover/internal/scan"
)

// Config tunes engine execution.
type Config struct {
	// MaxSourceWorkers bounds the scraping fan-out.
	MaxSourceWorkers int
	// CompletionTopic receives the run-completion event. Empty disables
	// publishing.
	CompletionTopic string
	// DraftTopK caps how many jobs the writing step drafts for when the
	// run config does not set its own.
	DraftTopK int
}

func (c Config) withDefaults() Config {
	if c.MaxSourceWorkers <= 0 {
		c.MaxSourceWorkers = 4
	}
	if c.DraftTopK <= 0 {
		c.DraftTopK = 5
	}
	return c
}

// Deps bundles the engine's collaborators. Renderer, hunter, completer
// and publisher are optional; steps that need a missing collaborator
// fail and are skipped when the step allows it.
type Deps struct {
	Registry  *connector.Registry
	Jobs      scan.JobStore
	Plans     scan.PlanStore
	Sources   scan.SourceStore
	Renderer  scan.Renderer
	Blobs     scan.BlobStore
	Hunter    scan.ContactHunter
	Completer scan.Completer
	Publisher scan.Publisher
	Progress  progress.Emitter
	Logger    *zap.Logger
	Clock     scan.Clock
	IDs       scan.IDGenerator
}

// Engine executes workflow plans step by step. One Engine serves many
// concurrent runs; per-run state lives in the runState passed between
// steps.
type Engine struct {
	cfg   Config
	deps  Deps
	retry *retryPolicy
	runs  *runRegistry
}

// New validates the required collaborators and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("new engine: connector registry is required")
	}
	if deps.Jobs == nil || deps.Plans == nil || deps.Sources == nil {
		return nil, fmt.Errorf("new engine: job, plan and source stores are required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("new engine: clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("new engine: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		retry: newRetryPolicy(),
		runs:  newRunRegistry(),
	}, nil
}

// Cancel requests cancellation of a running plan. The run context is
// released so a blocked step returns; an interrupted step is marked
// skipped, remaining steps stay pending and the plan ends cancelled.
// Returns false when no such plan is running.
func (e *Engine) Cancel(planID string) bool {
	return e.runs.cancel(planID)
}

// Run loads the plan named by the request and executes it.
func (e *Engine) Run(ctx context.Context, req scan.ScanRequest) error {
	plan, err := e.deps.Plans.GetPlan(ctx, req.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", req.PlanID, err)
	}
	if plan.Status == scan.PlanCancelled {
		e.deps.Logger.Info("skipping cancelled plan", zap.String("plan_id", plan.ID))
		return nil
	}
	return e.Execute(ctx, plan, req.Config)
}

// runState is the mutable context threaded through a run's steps. The
// jobs slice is written concurrently by scraping workers and therefore
// guarded; everything else is touched by one step at a time.
type runState struct {
	cfg    scan.ScanConfig
	budget *policy.Enforcer

	mu   sync.Mutex
	jobs []scan.CanonicalJob

	contacts []scan.Contact
	drafts   int
	summary  runSummary
}

func (s *runState) appendJobs(jobs []scan.CanonicalJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, jobs...)
	s.mu.Unlock()
}

func (s *runState) jobsSnapshot() []scan.CanonicalJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scan.CanonicalJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

type runSummary struct {
	sources      int
	pagesFetched int
	jobsFetched  int
	jobsCreated  int
	jobsUpdated  int
}

// Execute runs the plan's steps strictly in order. A failed required
// step or an exhausted time budget leaves later steps pending and the
// plan failed; cancellation leaves them pending and the plan cancelled.
func (e *Engine) Execute(ctx context.Context, plan *scan.WorkflowPlan, cfg scan.ScanConfig) error {
	var constraints scan.PolicyConstraints
	if cfg.Constraints != nil {
		constraints = *cfg.Constraints
	}
	state := &runState{
		cfg:    cfg,
		budget: policy.New(constraints, e.deps.Clock),
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	e.runs.add(plan.ID, cancelRun)
	defer e.runs.remove(plan.ID)

	logger := e.deps.Logger.With(zap.String("plan_id", plan.ID), zap.String("user_id", plan.UserID))
	started := e.deps.Clock.Now()

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	if err := e.setPlanStatus(ctx, plan, scan.PlanRunning); err != nil {
		return err
	}
	e.emit(progress.Event{PlanID: plan.ID, TS: started, Stage: progress.StagePlanStart})
	logger.Info("plan started", zap.Int("steps", len(plan.Steps)))

	var failed bool
	for i := range plan.Steps {
		if e.runs.isCancelled(plan.ID) {
			return e.finishCancelled(ctx, plan, logger, started)
		}
		step := &plan.Steps[i]
		if state.budget.RemainingTime() <= 0 {
			err := fmt.Errorf("run budget: %w", &policy.BudgetError{Kind: policy.ResourceDuration})
			e.markStep(ctx, plan, step, scan.StepFailed, err)
			metrics.ObserveStep(string(step.Kind), "failed")
			logger.Warn("run time budget exhausted", zap.String("step", step.Name))
			failed = true
			break
		}

		if err := e.runStepWithRetries(runCtx, plan, step, state, logger); err != nil {
			if e.runs.isCancelled(plan.ID) {
				e.markStep(ctx, plan, step, scan.StepSkipped, fmt.Errorf("run cancelled: %w", err))
				metrics.ObserveStep(string(step.Kind), "skipped")
				return e.finishCancelled(ctx, plan, logger, started)
			}
			var budgetErr *policy.BudgetError
			if errors.As(err, &budgetErr) {
				e.markStep(ctx, plan, step, scan.StepFailed, err)
				metrics.ObserveStep(string(step.Kind), "failed")
				e.emit(progress.Event{
					PlanID: plan.ID, TS: e.deps.Clock.Now(),
					Stage: progress.StageStepFailed, StepKind: string(step.Kind), Note: err.Error(),
				})
				logger.Error("run budget exhausted",
					zap.String("step", step.Name), zap.String("resource", string(budgetErr.Kind)))
				failed = true
				break
			}
			if step.Skippable && !cfg.Strict {
				e.markStep(ctx, plan, step, scan.StepSkipped, err)
				metrics.ObserveStep(string(step.Kind), "skipped")
				logger.Warn("step skipped after failure",
					zap.String("step", step.Name), zap.Error(err))
				continue
			}
			e.markStep(ctx, plan, step, scan.StepFailed, err)
			metrics.ObserveStep(string(step.Kind), "failed")
			e.emit(progress.Event{
				PlanID: plan.ID, TS: e.deps.Clock.Now(),
				Stage: progress.StageStepFailed, StepKind: string(step.Kind), Note: err.Error(),
			})
			logger.Error("step failed", zap.String("step", step.Name), zap.Error(err))
			failed = true
			break
		}
	}

	dur := e.deps.Clock.Now().Sub(started)
	if failed {
		if err := e.setPlanStatus(ctx, plan, scan.PlanFailed); err != nil {
			return err
		}
		e.emit(progress.Event{PlanID: plan.ID, TS: e.deps.Clock.Now(), Stage: progress.StagePlanError, Dur: dur})
		logger.Warn("plan failed", zap.Duration("dur", dur))
		return fmt.Errorf("plan %s failed", plan.ID)
	}

	if err := e.setPlanStatus(ctx, plan, scan.PlanCompleted); err != nil {
		return err
	}
	e.emit(progress.Event{PlanID: plan.ID, TS: e.deps.Clock.Now(), Stage: progress.StagePlanDone, Dur: dur})
	logger.Info("plan completed",
		zap.Duration("dur", dur),
		zap.Int("jobs_fetched", state.summary.jobsFetched),
		zap.Int64("tokens", state.budget.TokensConsumed()))
	return nil
}

func (e *Engine) finishCancelled(ctx context.Context, plan *scan.WorkflowPlan, logger *zap.Logger, started time.Time) error {
	if err := e.setPlanStatus(ctx, plan, scan.PlanCancelled); err != nil {
		return err
	}
	dur := e.deps.Clock.Now().Sub(started)
	e.emit(progress.Event{PlanID: plan.ID, TS: e.deps.Clock.Now(), Stage: progress.StagePlanError, Dur: dur, Note: "cancelled"})
	logger.Info("plan cancelled", zap.Duration("dur", dur))
	return nil
}

// runStepWithRetries drives one step to a terminal outcome, retrying
// transient failures in place. The step keeps its identity across
// attempts; only its status and error change.
func (e *Engine) runStepWithRetries(ctx context.Context, plan *scan.WorkflowPlan, step *scan.WorkflowStep, state *runState, logger *zap.Logger) error {
	e.markStep(ctx, plan, step, scan.StepRunning, nil)
	e.emit(progress.Event{
		PlanID: plan.ID, TS: e.deps.Clock.Now(),
		Stage: progress.StageStepStart, StepKind: string(step.Kind),
	})

	var lastErr error
	for attempt := 0; ; attempt++ {
		stepStart := e.deps.Clock.Now()
		output, err := e.runStep(ctx, plan, step, state)
		if output != nil {
			// Partial results stay on the step even when it fails.
			step.Output = output
		}
		if err == nil {
			e.markStep(ctx, plan, step, scan.StepCompleted, nil)
			metrics.ObserveStep(string(step.Kind), "completed")
			e.emit(progress.Event{
				PlanID: plan.ID, TS: e.deps.Clock.Now(),
				Stage: progress.StageStepDone, StepKind: string(step.Kind),
				Dur: e.deps.Clock.Now().Sub(stepStart),
			})
			return nil
		}
		lastErr = err
		if !e.retry.shouldRetry(err, attempt, step.MaxRetries) {
			return lastErr
		}
		delay := e.retry.backoff(attempt)
		logger.Warn("step attempt failed, retrying",
			zap.String("step", step.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (e *Engine) runStep(ctx context.Context, plan *scan.WorkflowPlan, step *scan.WorkflowStep, state *runState) (scan.StepPayload, error) {
	switch step.Kind {
	case scan.StepScraping:
		return e.runScraping(ctx, plan, step, state)
	case scan.StepExtracting:
		return e.runExtracting(ctx, state)
	case scan.StepMatching:
		return e.runMatching(ctx, state)
	case scan.StepWriting:
		return e.runWriting(ctx, state)
	case scan.StepBlueprint:
		return e.runBlueprint(ctx, state)
	case scan.StepDone:
		return e.runDone(ctx, plan, state)
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// markStep updates the step in memory and persists it. Persistence
// failures are logged, not propagated; the in-memory plan stays the
// source of truth for the run.
func (e *Engine) markStep(ctx context.Context, plan *scan.WorkflowPlan, step *scan.WorkflowStep, status scan.StepStatus, cause error) {
	now := e.deps.Clock.Now()
	step.Status = status
	switch status {
	case scan.StepRunning:
		step.StartedAt = &now
		step.Error = ""
	case scan.StepCompleted:
		step.CompletedAt = &now
		step.Error = ""
	case scan.StepFailed, scan.StepSkipped:
		step.CompletedAt = &now
		if cause != nil {
			step.Error = cause.Error()
		}
	}
	if err := e.deps.Plans.UpdateStep(ctx, plan.ID, *step); err != nil {
		e.deps.Logger.Warn("persist step update",
			zap.String("plan_id", plan.ID), zap.String("step_id", step.ID), zap.Error(err))
	}
}

func (e *Engine) setPlanStatus(ctx context.Context, plan *scan.WorkflowPlan, status scan.PlanStatus) error {
	now := e.deps.Clock.Now()
	plan.Status = status
	plan.UpdatedAt = now
	if err := e.deps.Plans.UpdatePlanStatus(ctx, plan.ID, status, now); err != nil {
		return fmt.Errorf("update plan %s status: %w", plan.ID, err)
	}
	return nil
}

func (e *Engine) emit(evt progress.Event) {
	e.deps.Progress.Emit(evt)
}
