// Package sinks provides progress sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful during
// development or audits where nothing durable is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("plan_id", evt.PlanID),
			zap.String("stage", string(evt.Stage)),
			zap.String("step_kind", evt.StepKind),
			zap.String("source_id", evt.SourceID),
			zap.Int64("jobs", evt.Jobs),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
