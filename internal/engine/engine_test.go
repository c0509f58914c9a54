package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/connector"
	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/progress"
	pubmemory "github.com/jobrover/jobrover/internal/publisher/memory"
	"github.com/jobrover/jobrover/internal/scan"
	"github.com/jobrover/jobrover/internal/storage/memory"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Stage
	}
	return out
}

type stubConn struct {
	jobs    []scan.CanonicalJob
	err     error
	onFetch func()
}

func (c *stubConn) Fetch(_ context.Context, _ scan.ConnectorConfig, _ *policy.Enforcer) (scan.ConnectorResult, error) {
	if c.onFetch != nil {
		c.onFetch()
	}
	if c.err != nil {
		return scan.ConnectorResult{}, c.err
	}
	return scan.ConnectorResult{Jobs: c.jobs, OK: true, Pages: 1}, nil
}

type stubRenderer struct {
	html string
}

func (r *stubRenderer) Navigate(_ context.Context, url string) (scan.RenderResult, error) {
	return scan.RenderResult{URL: url, HTML: r.html, StatusCode: 200}, nil
}

type fakeHunter struct {
	result scan.HuntResult
	err    error
	calls  int
}

func (h *fakeHunter) HuntContacts(_ context.Context, company, _ string) (scan.HuntResult, error) {
	h.calls++
	if h.err != nil {
		return scan.HuntResult{}, h.err
	}
	out := h.result
	for i := range out.Contacts {
		out.Contacts[i].Company = company
	}
	return out, nil
}

type fakeCompleter struct {
	text   string
	tokens int64
	err    error
}

func (c *fakeCompleter) Complete(_ context.Context, _ scan.CompletionRequest) (scan.CompletionResponse, error) {
	if c.err != nil {
		return scan.CompletionResponse{}, c.err
	}
	return scan.CompletionResponse{Text: c.text, TokensUsed: c.tokens}, nil
}

type testRig struct {
	engine   *Engine
	jobs     *memory.JobStore
	plans    *memory.PlanStore
	sources  *memory.SourceStore
	pub      *pubmemory.Publisher
	progress *captureEmitter
	clock    *fakeClock
}

func sampleJobs() []scan.CanonicalJob {
	return []scan.CanonicalJob{
		{Title: "Backend Engineer", Company: "Acme", URL: "https://boards.greenhouse.io/acme/jobs/1",
			Remote: scan.RemoteUnset, State: scan.JobOpen, DedupeKey: "aaaa000000000000000000000000aaaa"},
		{Title: "SRE", Company: "Acme", URL: "https://boards.greenhouse.io/acme/jobs/2",
			Remote: scan.RemoteUnset, State: scan.JobOpen, DedupeKey: "bbbb000000000000000000000000bbbb"},
	}
}

func fingerprintedSource() scan.Source {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return scan.Source{
		ID:     "src-1",
		UserID: "u-1",
		Name:   "Acme board",
		URL:    "https://boards.greenhouse.io/acme",
		Fingerprint: scan.FingerprintResult{
			ATSType:         scan.ATSGreenhouse,
			ScrapeStrategy:  scan.StrategyBoardAPI,
			ConnectorConfig: scan.ConnectorConfig{BoardToken: "acme"},
		},
		LastFingerprintedAt: &at,
	}
}

func newTestRig(t *testing.T, cfg Config, deps func(*Deps)) *testRig {
	t.Helper()
	rig := &testRig{
		jobs:     memory.NewJobStore(),
		plans:    memory.NewPlanStore(),
		sources:  memory.NewSourceStore(),
		pub:      pubmemory.New(),
		progress: &captureEmitter{},
		clock:    newFakeClock(time.Millisecond),
	}
	d := Deps{
		Registry:  connector.NewRegistry(),
		Jobs:      rig.jobs,
		Plans:     rig.plans,
		Sources:   rig.sources,
		Publisher: rig.pub,
		Progress:  rig.progress,
		Clock:     rig.clock,
		IDs:       &fakeIDs{},
	}
	if deps != nil {
		deps(&d)
	}
	eng, err := New(cfg, d)
	require.NoError(t, err)
	rig.engine = eng
	return rig
}

func runPlan(t *testing.T, rig *testRig, cfg scan.ScanConfig) (*scan.WorkflowPlan, error) {
	t.Helper()
	plan, err := BuildPlan(cfg, &fakeIDs{n: 100}, rig.clock)
	require.NoError(t, err)
	require.NoError(t, rig.plans.CreatePlan(context.Background(), plan))
	execErr := rig.engine.Execute(context.Background(), plan, cfg)
	stored, err := rig.plans.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	return stored, execErr
}

func stepByKind(t *testing.T, plan *scan.WorkflowPlan, kind scan.StepKind) scan.WorkflowStep {
	t.Helper()
	for _, s := range plan.Steps {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("no %s step in plan", kind)
	return scan.WorkflowStep{}
}

func TestExecute_CompletesMinimalPlan(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{CompletionTopic: "scan-complete"}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1"})
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	extract := stepByKind(t, stored, scan.StepExtracting)
	require.Equal(t, scan.StepCompleted, extract.Status)
	out, ok := extract.Output.(scan.ExtractOutput)
	require.True(t, ok)
	require.Equal(t, 2, out.JobsUpserted)
	require.Equal(t, 0, out.JobsUpdated)

	jobs, err := rig.jobs.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	done := stepByKind(t, stored, scan.StepDone)
	doneOut, ok := done.Output.(scan.DoneOutput)
	require.True(t, ok)
	require.Contains(t, doneOut.Summary, "2 jobs")

	msgs := rig.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scan-complete", msgs[0].Topic)

	stages := rig.progress.stages()
	require.Equal(t, progress.StagePlanStart, stages[0])
	require.Equal(t, progress.StagePlanDone, stages[len(stages)-1])
}

func TestExecute_FingerprintsUnclassifiedSource(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), scan.Source{
		ID:     "src-1",
		UserID: "u-1",
		URL:    "https://boards.greenhouse.io/acme",
	}))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1"})
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	sources, err := rig.sources.ListSources(context.Background(), "u-1", nil)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, scan.ATSGreenhouse, sources[0].Fingerprint.ATSType)
	require.Equal(t, "acme", sources[0].Fingerprint.ConnectorConfig.BoardToken)
	require.NotNil(t, sources[0].LastFingerprintedAt)
}

func TestExecute_NoSourcesFailsPlan(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, nil)

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1"})
	require.Error(t, execErr)
	require.Equal(t, scan.PlanFailed, stored.Status)

	require.Equal(t, scan.StepFailed, stepByKind(t, stored, scan.StepScraping).Status)
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepExtracting).Status)
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepDone).Status)
}

func TestExecute_SkippableFailureContinues(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
		// No hunter configured: the matching step must fail and be skipped.
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1", IncludeContactHunt: true})
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	matching := stepByKind(t, stored, scan.StepMatching)
	require.Equal(t, scan.StepSkipped, matching.Status)
	require.NotEmpty(t, matching.Error)
	require.Equal(t, scan.StepCompleted, stepByKind(t, stored, scan.StepDone).Status)
}

func TestExecute_StrictFailsOnSourceError(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{err: errors.New("board unreachable")})
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1", Strict: true})
	require.Error(t, execErr)
	require.Equal(t, scan.PlanFailed, stored.Status)
	require.Equal(t, scan.StepFailed, stepByKind(t, stored, scan.StepScraping).Status)
}

func TestExecute_NonStrictRecordsSourceError(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{err: errors.New("board unreachable")})
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1"})
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	scrape := stepByKind(t, stored, scan.StepScraping)
	out, ok := scrape.Output.(scan.ScrapeOutput)
	require.True(t, ok)
	require.Len(t, out.Sources, 1)
	require.Contains(t, out.Sources[0].Errors, "board unreachable")
}

func TestExecute_CancelStopsAtStepBoundary(t *testing.T) {
	t.Parallel()
	var rig *testRig
	var planID string
	rig = newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{
			jobs:    sampleJobs(),
			onFetch: func() { rig.engine.Cancel(planID) },
		})
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	plan, err := BuildPlan(scan.ScanConfig{UserID: "u-1"}, &fakeIDs{n: 100}, rig.clock)
	require.NoError(t, err)
	planID = plan.ID
	require.NoError(t, rig.plans.CreatePlan(context.Background(), plan))

	require.NoError(t, rig.engine.Execute(context.Background(), plan, scan.ScanConfig{UserID: "u-1"}))

	stored, err := rig.plans.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, scan.PlanCancelled, stored.Status)
	require.Equal(t, scan.StepCompleted, stepByKind(t, stored, scan.StepScraping).Status)
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepExtracting).Status)
}

func TestCancel_UnknownPlan(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, nil)
	require.False(t, rig.engine.Cancel("nope"))
}

func TestExecute_TimeBudgetExhaustion(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
	})
	rig.clock.step = time.Second
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	cfg := scan.ScanConfig{
		UserID:      "u-1",
		Constraints: &scan.PolicyConstraints{MaxRunDuration: time.Millisecond},
	}
	stored, execErr := runPlan(t, rig, cfg)
	require.Error(t, execErr)
	require.Equal(t, scan.PlanFailed, stored.Status)

	// The step that was about to run carries the exhaustion reason.
	scrape := stepByKind(t, stored, scan.StepScraping)
	require.Equal(t, scan.StepFailed, scrape.Status)
	require.Contains(t, scrape.Error, "budget exceeded: duration")
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepExtracting).Status)
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepDone).Status)
}

func TestExecute_TokenBudgetExhaustionFailsPlan(t *testing.T) {
	t.Parallel()
	hunter := &fakeHunter{result: scan.HuntResult{
		Contacts:   []scan.Contact{{Name: "Dana Reyes", Title: "Recruiter"}},
		TokensUsed: 1000,
	}}
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
		d.Hunter = hunter
		d.Completer = &fakeCompleter{text: "unused", tokens: 5}
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	cfg := scan.ScanConfig{
		UserID:             "u-1",
		IncludeContactHunt: true,
		IncludeDrafts:      true,
		Constraints:        &scan.PolicyConstraints{MaxTokensPerRun: 500},
	}
	stored, execErr := runPlan(t, rig, cfg)
	require.Error(t, execErr)
	require.Equal(t, scan.PlanFailed, stored.Status)

	matching := stepByKind(t, stored, scan.StepMatching)
	require.Equal(t, scan.StepFailed, matching.Status, "budget exhaustion is not skippable")
	require.Contains(t, matching.Error, "budget exceeded: tokens")
	require.Equal(t, 1, hunter.calls, "an exhausted budget is not retried")

	// Contacts found before the refusal stay on the step output.
	out, ok := matching.Output.(scan.MatchOutput)
	require.True(t, ok)
	require.Len(t, out.Contacts, 1)

	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepWriting).Status)
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepDone).Status)
}

func TestExecute_MatchingWritingAndBlueprint(t *testing.T) {
	t.Parallel()
	hunter := &fakeHunter{result: scan.HuntResult{
		Contacts:   []scan.Contact{{Name: "Dana Reyes", Title: "Recruiter"}},
		TokensUsed: 10,
	}}
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
		d.Hunter = hunter
		d.Completer = &fakeCompleter{text: "Hello Acme team", tokens: 5}
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	cfg := scan.ScanConfig{
		UserID:             "u-1",
		IncludeContactHunt: true,
		IncludeDrafts:      true,
		IncludeBlueprint:   true,
		TopK:               2,
	}
	stored, execErr := runPlan(t, rig, cfg)
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	// Both sample jobs share one company, so the hunter runs once.
	require.Equal(t, 1, hunter.calls)
	match, ok := stepByKind(t, stored, scan.StepMatching).Output.(scan.MatchOutput)
	require.True(t, ok)
	require.Len(t, match.Contacts, 1)
	require.Equal(t, "Acme", match.Contacts[0].Company)

	write, ok := stepByKind(t, stored, scan.StepWriting).Output.(scan.WriteOutput)
	require.True(t, ok)
	require.Len(t, write.Drafts, 2)
	require.Equal(t, "Hello Acme team", write.Drafts[0].Text)
	require.NotEmpty(t, write.Drafts[0].ID)
	require.Equal(t, sampleJobs()[0].DedupeKey, write.Drafts[0].JobKey)

	blueprint, ok := stepByKind(t, stored, scan.StepBlueprint).Output.(scan.BlueprintOutput)
	require.True(t, ok)
	require.Equal(t, "Hello Acme team", blueprint.Blueprint)

	done, ok := stepByKind(t, stored, scan.StepDone).Output.(scan.DoneOutput)
	require.True(t, ok)
	require.Contains(t, done.Summary, "2 drafts")
}

func TestExecute_DOMDetectedSourceUsesDOMConnector(t *testing.T) {
	t.Parallel()
	domJobs := []scan.CanonicalJob{
		{Title: "Platform Engineer", Company: "Example", URL: "https://careers.example.com/jobs/9",
			Remote: scan.RemoteUnset, State: scan.JobOpen, DedupeKey: "cccc000000000000000000000000cccc"},
	}
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{err: errors.New("board api called without a token")})
		d.Registry.RegisterDOMCrawl(&stubConn{jobs: domJobs})
		d.Renderer = &stubRenderer{html: `<html><body><div id="grnhse_app"></div></body></html>`}
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), scan.Source{
		ID:     "src-dom",
		UserID: "u-1",
		URL:    "https://careers.example.com",
	}))

	stored, execErr := runPlan(t, rig, scan.ScanConfig{UserID: "u-1"})
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)

	// The embed marker names the ATS family but yields no board token,
	// so the source keeps the dom-crawl strategy and connector.
	sources, err := rig.sources.ListSources(context.Background(), "u-1", nil)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, scan.ATSGreenhouse, sources[0].Fingerprint.ATSType)
	require.Equal(t, scan.StrategyDOMCrawl, sources[0].Fingerprint.ScrapeStrategy)

	scrape := stepByKind(t, stored, scan.StepScraping)
	out, ok := scrape.Output.(scan.ScrapeOutput)
	require.True(t, ok)
	require.Len(t, out.Sources, 1)
	require.Empty(t, out.Sources[0].Errors)
	require.Equal(t, 1, out.Sources[0].JobsFetched)
}

type cancellingCompleter struct {
	cancel func()
}

func (c *cancellingCompleter) Complete(ctx context.Context, _ scan.CompletionRequest) (scan.CompletionResponse, error) {
	c.cancel()
	<-ctx.Done()
	return scan.CompletionResponse{}, ctx.Err()
}

func TestExecute_CancelMidStepLeavesTerminalStatus(t *testing.T) {
	t.Parallel()
	var rig *testRig
	var planID string
	rig = newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
		d.Completer = &cancellingCompleter{cancel: func() { rig.engine.Cancel(planID) }}
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	cfg := scan.ScanConfig{UserID: "u-1", IncludeDrafts: true}
	plan, err := BuildPlan(cfg, &fakeIDs{n: 100}, rig.clock)
	require.NoError(t, err)
	planID = plan.ID
	require.NoError(t, rig.plans.CreatePlan(context.Background(), plan))

	require.NoError(t, rig.engine.Execute(context.Background(), plan, cfg))

	stored, err := rig.plans.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, scan.PlanCancelled, stored.Status)

	// The interrupted step ends terminal, never stuck running.
	writing := stepByKind(t, stored, scan.StepWriting)
	require.Equal(t, scan.StepSkipped, writing.Status)
	require.Contains(t, writing.Error, "cancelled")
	require.Equal(t, scan.StepPending, stepByKind(t, stored, scan.StepDone).Status)
}

func TestExecute_SimulateSkipsCompletions(t *testing.T) {
	t.Parallel()
	hunter := &fakeHunter{result: scan.HuntResult{TokensUsed: 10}}
	rig := newTestRig(t, Config{}, func(d *Deps) {
		d.Registry.Register(scan.ATSGreenhouse, &stubConn{jobs: sampleJobs()})
		d.Hunter = hunter
		d.Completer = &fakeCompleter{text: "unused", tokens: 5}
	})
	require.NoError(t, rig.sources.AddSource(context.Background(), fingerprintedSource()))

	cfg := scan.ScanConfig{
		UserID:             "u-1",
		IncludeContactHunt: true,
		IncludeDrafts:      true,
		Constraints:        &scan.PolicyConstraints{Simulate: true},
	}
	stored, execErr := runPlan(t, rig, cfg)
	require.NoError(t, execErr)
	require.Equal(t, scan.PlanCompleted, stored.Status)
	require.Zero(t, hunter.calls)

	write, ok := stepByKind(t, stored, scan.StepWriting).Output.(scan.WriteOutput)
	require.True(t, ok)
	require.Empty(t, write.Drafts)
}
