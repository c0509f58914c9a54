// Package progress defines the event stream emitted while a workflow
// plan executes. Events are advisory: losing one never affects the
// plan record, which remains the source of truth.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StagePlanStart  Stage = "PLAN_START"
	StageStepStart  Stage = "STEP_START"
	StageStepDone   Stage = "STEP_DONE"
	StageStepFailed Stage = "STEP_FAILED"
	StageSourceDone Stage = "SOURCE_DONE"
	StagePlanDone   Stage = "PLAN_DONE"
	StagePlanError  Stage = "PLAN_ERROR"
)

// Event captures a single milestone of a running plan.
type Event struct {
	// PlanID identifies the workflow plan.
	PlanID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// StepKind scopes step events to a step kind label.
	StepKind string
	// SourceID scopes source events to one configured source.
	SourceID string
	// Jobs carries the number of jobs a source or step produced.
	Jobs int64
	// Dur captures execution latency for finished steps and plans.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.PlanID == "" {
		return errors.New("plan id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePlanStart, StagePlanDone, StagePlanError:
	case StageStepStart, StageStepDone, StageStepFailed:
		if e.StepKind == "" {
			return errors.New("step events require a step kind")
		}
	case StageSourceDone:
		if e.SourceID == "" {
			return errors.New("source done requires a source id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
