package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrover/jobrover/internal/progress"
)

// PrometheusSink exports plan progress metrics. It owns the collectors
// for plans started/completed/running and per-kind step counters.
type PrometheusSink struct {
	plansStarted   prometheus.Counter
	plansCompleted *prometheus.CounterVec
	plansRunning   prometheus.Gauge
	planRuntime    *prometheus.HistogramVec

	stepsFinished *prometheus.CounterVec
	sourceJobs    prometheus.Counter

	tracker *planTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		plansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scan_plans_started_total",
			Help: "Total workflow plans that have started.",
		}),
		plansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_plans_completed_total",
			Help: "Total workflow plans completed partitioned by result.",
		}, []string{"result"}),
		plansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scan_plans_running",
			Help: "Current number of running workflow plans.",
		}),
		planRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scan_plan_runtime_seconds",
			Help:    "Wall time per completed plan.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stepsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_progress_steps_total",
			Help: "Step completions partitioned by kind and result.",
		}, []string{"kind", "result"}),
		sourceJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scan_progress_source_jobs_total",
			Help: "Jobs reported by finished sources.",
		}),
		tracker: newPlanTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.plansStarted,
		s.plansCompleted,
		s.plansRunning,
		s.planRuntime,
		s.stepsFinished,
		s.sourceJobs,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePlanStart:
		s.plansStarted.Inc()
		if s.tracker.start(evt.PlanID) {
			s.plansRunning.Inc()
		}
	case progress.StagePlanDone:
		s.finishPlan(evt, "success")
	case progress.StagePlanError:
		s.finishPlan(evt, "error")
	case progress.StageStepDone:
		s.stepsFinished.WithLabelValues(evt.StepKind, "success").Inc()
	case progress.StageStepFailed:
		s.stepsFinished.WithLabelValues(evt.StepKind, "error").Inc()
	case progress.StageSourceDone:
		if evt.Jobs > 0 {
			s.sourceJobs.Add(float64(evt.Jobs))
		}
	}
}

func (s *PrometheusSink) finishPlan(evt progress.Event, result string) {
	s.plansCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.planRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.PlanID) {
		s.plansRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type planTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newPlanTracker() *planTracker {
	return &planTracker{running: make(map[string]struct{})}
}

func (t *planTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *planTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
