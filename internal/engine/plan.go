// Package engine builds and executes workflow plans. A plan is the
// aggregate record for one scan run: the engine derives its fixed step
// list from the run config, then executes the steps strictly in order.
package engine

import (
	"fmt"

	"github.com/jobrover/jobrover/internal/scan"
)

// Agent names recorded on steps. They identify which subsystem runs
// the step, for humans reading the plan record.
const (
	agentScraper   = "scraper"
	agentExtractor = "extractor"
	agentMatcher   = "contact-hunter"
	agentWriter    = "draft-writer"
	agentEngine    = "engine"
)

const defaultStepRetries = 2

// BuildPlan derives the fixed step list from the run config. Scraping
// and extracting always run; the optional steps appear only when their
// toggle is set. Scraping is the only non-skippable step: without its
// output nothing downstream can work.
func BuildPlan(cfg scan.ScanConfig, ids scan.IDGenerator, clock scan.Clock) (*scan.WorkflowPlan, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("build plan: user id is required")
	}
	planID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	type stepSpec struct {
		name      string
		kind      scan.StepKind
		agent     string
		skippable bool
		retries   int
		input     scan.StepPayload
	}
	specs := []stepSpec{
		{
			name:    "scraping",
			kind:    scan.StepScraping,
			agent:   agentScraper,
			retries: defaultStepRetries,
			input:   scan.ScrapeInput{SourceIDs: cfg.SourceIDs},
		},
		{
			name:      "extracting",
			kind:      scan.StepExtracting,
			agent:     agentExtractor,
			skippable: true,
			retries:   defaultStepRetries,
		},
	}
	if cfg.IncludeContactHunt {
		specs = append(specs, stepSpec{
			name:      "matching",
			kind:      scan.StepMatching,
			agent:     agentMatcher,
			skippable: true,
			retries:   1,
		})
	}
	if cfg.IncludeDrafts {
		specs = append(specs, stepSpec{
			name:      "writing",
			kind:      scan.StepWriting,
			agent:     agentWriter,
			skippable: true,
			retries:   1,
		})
	}
	if cfg.IncludeBlueprint {
		specs = append(specs, stepSpec{
			name:      "blueprint",
			kind:      scan.StepBlueprint,
			agent:     agentWriter,
			skippable: true,
			retries:   1,
		})
	}
	specs = append(specs, stepSpec{
		name:      "done",
		kind:      scan.StepDone,
		agent:     agentEngine,
		skippable: true,
	})

	now := clock.Now()
	plan := &scan.WorkflowPlan{
		ID:        planID,
		Name:      "job scan",
		UserID:    cfg.UserID,
		Status:    scan.PlanPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, spec := range specs {
		stepID, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("build plan: %w", err)
		}
		plan.Steps = append(plan.Steps, scan.WorkflowStep{
			ID:         stepID,
			Name:       spec.name,
			Kind:       spec.kind,
			Agent:      spec.agent,
			Status:     scan.StepPending,
			Skippable:  spec.skippable,
			MaxRetries: spec.retries,
			Input:      spec.input,
		})
	}
	return plan, nil
}
