package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jobrover/jobrover/internal/connector"
	"github.com/jobrover/jobrover/internal/fingerprint"
	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/progress"
	"github.com/jobrover/jobrover/internal/scan"
)

const completionTimeout = 30 * time.Second

// runScraping fans out over the run's sources through a bounded worker
// group. Every worker charges the same budget, so per-source caps hold
// even when sources run concurrently.
func (e *Engine) runScraping(ctx context.Context, plan *scan.WorkflowPlan, step *scan.WorkflowStep, state *runState) (scan.StepPayload, error) {
	var sourceIDs []string
	if input, ok := step.Input.(scan.ScrapeInput); ok {
		sourceIDs = input.SourceIDs
	}
	sources, err := e.deps.Sources.ListSources(ctx, state.cfg.UserID, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured for user %s", state.cfg.UserID)
	}

	results := make([]scan.SourceScrapeResult, len(sources))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxSourceWorkers)
	for i := range sources {
		g.Go(func() error {
			results[i] = e.scrapeSource(groupCtx, plan.ID, sources[i], state)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scrape sources: %w", err)
	}

	output := scan.ScrapeOutput{Sources: results}
	var sourceErrs []string
	for i := range results {
		state.summary.pagesFetched += results[i].PagesFetched
		state.summary.jobsFetched += results[i].JobsFetched
		sourceErrs = append(sourceErrs, results[i].Errors...)
	}
	state.summary.sources = len(sources)
	output.Jobs = state.jobsSnapshot()
	if state.cfg.Strict && len(sourceErrs) > 0 {
		return nil, fmt.Errorf("strict run: %d source errors, first: %s", len(sourceErrs), sourceErrs[0])
	}
	return output, nil
}

// scrapeSource resolves one source's connector and runs it. Failures
// are captured in the result rather than returned; a bad source never
// aborts its siblings.
func (e *Engine) scrapeSource(ctx context.Context, planID string, src scan.Source, state *runState) scan.SourceScrapeResult {
	result := scan.SourceScrapeResult{SourceID: src.ID}

	fp := e.fingerprintSource(ctx, src, state)
	result.ATSType = fp.ATSType

	conn, err := e.deps.Registry.Resolve(fp)
	if err != nil {
		var noConn *connector.ErrNoConnector
		if errors.As(err, &noConn) {
			result.Skipped = true
			result.Reason = err.Error()
			return result
		}
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	res, err := conn.Fetch(ctx, fp.ConnectorConfig, state.budget)
	if err != nil {
		if errors.Is(err, policy.ErrDomainNotAllowed) {
			result.Skipped = true
			result.Reason = err.Error()
			return result
		}
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.PagesFetched = res.Pages
	result.JobsFetched = len(res.Jobs)
	result.Errors = append(result.Errors, res.Errors...)

	state.appendJobs(res.Jobs)
	e.emit(progress.Event{
		PlanID: planID, TS: e.deps.Clock.Now(),
		Stage: progress.StageSourceDone, StepKind: string(scan.StepScraping),
		SourceID: src.ID, Jobs: int64(len(res.Jobs)),
	})
	return result
}

// fingerprintSource returns the source's cached classification, or
// recomputes and caches it when the source has never been classified or
// resolved to unknown last time. Recomputation overwrites the cache.
func (e *Engine) fingerprintSource(ctx context.Context, src scan.Source, state *runState) scan.FingerprintResult {
	fp := src.Fingerprint
	if src.LastFingerprintedAt != nil && fp.ATSType != "" && fp.ATSType != scan.UnknownATS {
		return fp
	}

	fp = fingerprint.Detect(src.URL)
	if fp.ATSType == scan.UnknownATS && e.deps.Renderer != nil && !state.budget.Simulated() {
		if state.budget.Consume(policy.ResourcePages, src.ID, 1) {
			if rendered, err := e.deps.Renderer.Navigate(ctx, src.URL); err == nil {
				fp = fingerprint.DetectWithDOM(src.URL, rendered.HTML)
				e.archiveRender(ctx, src.ID, rendered)
			}
		}
	}

	if err := e.deps.Sources.SaveFingerprint(ctx, src.ID, fp, e.deps.Clock.Now()); err != nil {
		e.deps.Logger.Warn("save fingerprint", zap.String("source_id", src.ID), zap.Error(err))
	}
	return fp
}

// archiveRender stores the rendered page and any screenshots so the
// classification can be audited later. Best effort.
func (e *Engine) archiveRender(ctx context.Context, sourceID string, rendered scan.RenderResult) {
	if e.deps.Blobs == nil {
		return
	}
	htmlPath := fmt.Sprintf("fingerprints/%s.html", sourceID)
	if _, err := e.deps.Blobs.PutObject(ctx, htmlPath, "text/html; charset=utf-8", []byte(rendered.HTML)); err != nil {
		e.deps.Logger.Warn("archive rendered page", zap.String("source_id", sourceID), zap.Error(err))
		return
	}
	for i, shot := range rendered.Screenshots {
		shotPath := fmt.Sprintf("fingerprints/%s-%d.png", sourceID, i)
		if _, err := e.deps.Blobs.PutObject(ctx, shotPath, "image/png", shot); err != nil {
			e.deps.Logger.Warn("archive screenshot", zap.String("source_id", sourceID), zap.Error(err))
			return
		}
	}
}

// runExtracting upserts the scraped jobs into durable storage.
func (e *Engine) runExtracting(ctx context.Context, state *runState) (scan.StepPayload, error) {
	var output scan.ExtractOutput
	for _, job := range state.jobsSnapshot() {
		created, err := e.deps.Jobs.UpsertJob(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("upsert job %s: %w", job.DedupeKey, err)
		}
		if created {
			output.JobsUpserted++
		} else {
			output.JobsUpdated++
		}
	}
	state.summary.jobsCreated = output.JobsUpserted
	state.summary.jobsUpdated = output.JobsUpdated
	return output, nil
}

// runMatching hunts outreach contacts for each distinct company seen in
// this run. Token spend is charged after each hunt; a refused charge
// fails the step with a budget error, keeping what was already found on
// the step output.
func (e *Engine) runMatching(ctx context.Context, state *runState) (scan.StepPayload, error) {
	if e.deps.Hunter == nil {
		return nil, fmt.Errorf("contact hunter not configured")
	}
	if state.budget.Simulated() {
		return scan.MatchOutput{}, nil
	}

	for _, target := range companyTargets(state.jobsSnapshot()) {
		res, err := e.deps.Hunter.HuntContacts(ctx, target.company, target.domain)
		if err != nil {
			e.deps.Logger.Warn("contact hunt failed",
				zap.String("company", target.company), zap.Error(err))
			continue
		}
		state.contacts = append(state.contacts, res.Contacts...)
		if res.TokensUsed > 0 && !state.budget.Consume(policy.ResourceTokens, "", res.TokensUsed) {
			return scan.MatchOutput{Contacts: state.contacts},
				fmt.Errorf("contact hunt: %w", &policy.BudgetError{Kind: policy.ResourceTokens})
		}
	}
	return scan.MatchOutput{Contacts: state.contacts}, nil
}

// runWriting drafts outreach text for the run's top jobs.
func (e *Engine) runWriting(ctx context.Context, state *runState) (scan.StepPayload, error) {
	if e.deps.Completer == nil {
		return nil, fmt.Errorf("completer not configured")
	}
	if state.budget.Simulated() {
		return scan.WriteOutput{}, nil
	}

	topK := state.cfg.TopK
	if topK <= 0 {
		topK = e.cfg.DraftTopK
	}
	jobs := state.jobsSnapshot()
	if len(jobs) > topK {
		jobs = jobs[:topK]
	}

	var output scan.WriteOutput
	for _, job := range jobs {
		resp, err := e.deps.Completer.Complete(ctx, scan.CompletionRequest{
			Prompt:  draftPrompt(job),
			Mode:    "text",
			Timeout: completionTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("draft for %s at %s: %w", job.Title, job.Company, err)
		}
		if resp.TokensUsed > 0 && !state.budget.Consume(policy.ResourceTokens, "", resp.TokensUsed) {
			state.drafts = len(output.Drafts)
			return output, fmt.Errorf("draft completions: %w", &policy.BudgetError{Kind: policy.ResourceTokens})
		}
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("draft id: %w", err)
		}
		output.Drafts = append(output.Drafts, scan.Draft{
			ID:        id,
			JobKey:    job.DedupeKey,
			Kind:      "outreach",
			Text:      resp.Text,
			CreatedAt: e.deps.Clock.Now(),
		})
	}
	state.drafts = len(output.Drafts)
	return output, nil
}

// runBlueprint asks the completer for an application plan covering the
// whole run.
func (e *Engine) runBlueprint(ctx context.Context, state *runState) (scan.StepPayload, error) {
	if e.deps.Completer == nil {
		return nil, fmt.Errorf("completer not configured")
	}
	if state.budget.Simulated() {
		return scan.BlueprintOutput{}, nil
	}

	resp, err := e.deps.Completer.Complete(ctx, scan.CompletionRequest{
		Prompt:  blueprintPrompt(state.jobsSnapshot(), state.contacts),
		Mode:    "text",
		Timeout: completionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("blueprint completion: %w", err)
	}
	if resp.TokensUsed > 0 && !state.budget.Consume(policy.ResourceTokens, "", resp.TokensUsed) {
		return scan.BlueprintOutput{Blueprint: resp.Text},
			fmt.Errorf("blueprint completion: %w", &policy.BudgetError{Kind: policy.ResourceTokens})
	}
	return scan.BlueprintOutput{Blueprint: resp.Text}, nil
}

// runDone publishes the run-completion event and records the summary.
func (e *Engine) runDone(ctx context.Context, plan *scan.WorkflowPlan, state *runState) (scan.StepPayload, error) {
	summary := fmt.Sprintf(
		"scanned %d sources, fetched %d pages and %d jobs (%d new, %d updated), found %d contacts, wrote %d drafts, spent %d tokens",
		state.summary.sources,
		state.summary.pagesFetched,
		state.summary.jobsFetched,
		state.summary.jobsCreated,
		state.summary.jobsUpdated,
		len(state.contacts),
		state.drafts,
		state.budget.TokensConsumed(),
	)

	if e.deps.Publisher != nil && e.cfg.CompletionTopic != "" {
		payload := map[string]any{
			"plan_id":      plan.ID,
			"user_id":      plan.UserID,
			"jobs_fetched": state.summary.jobsFetched,
			"jobs_created": state.summary.jobsCreated,
			"contacts":     len(state.contacts),
			"drafts":       state.drafts,
			"tokens":       state.budget.TokensConsumed(),
			"completed_at": e.deps.Clock.Now().UTC(),
		}
		if _, err := e.deps.Publisher.Publish(ctx, e.cfg.CompletionTopic, payload); err != nil {
			return nil, fmt.Errorf("publish completion: %w", err)
		}
	}
	return scan.DoneOutput{Summary: summary}, nil
}

type companyTarget struct {
	company string
	domain  string
}

// companyTargets returns the distinct companies in first-seen order,
// each with the best-guess domain taken from one of its posting URLs.
func companyTargets(jobs []scan.CanonicalJob) []companyTarget {
	seen := make(map[string]bool)
	var targets []companyTarget
	for _, job := range jobs {
		company := strings.TrimSpace(job.Company)
		if company == "" || seen[strings.ToLower(company)] {
			continue
		}
		seen[strings.ToLower(company)] = true
		targets = append(targets, companyTarget{company: company, domain: jobDomain(job)})
	}
	return targets
}

func jobDomain(job scan.CanonicalJob) string {
	for _, raw := range []string{job.URL, job.ApplyURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return ""
}

func draftPrompt(job scan.CanonicalJob) string {
	var b strings.Builder
	b.WriteString("Write a short, specific outreach message for the following job posting. ")
	b.WriteString("Two paragraphs, no salutation placeholder, plain text only.\n\n")
	fmt.Fprintf(&b, "Title: %s\nCompany: %s\n", job.Title, job.Company)
	if job.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", job.Location)
	}
	if job.Description != "" {
		desc := job.Description
		if len(desc) > 2000 {
			desc = desc[:2000]
		}
		fmt.Fprintf(&b, "Description:\n%s\n", desc)
	}
	return b.String()
}

func blueprintPrompt(jobs []scan.CanonicalJob, contacts []scan.Contact) string {
	var b strings.Builder
	b.WriteString("Produce a prioritized application plan for the postings below. ")
	b.WriteString("For each, one line: company, role, suggested next action. Plain text only.\n\n")
	for i, job := range jobs {
		if i >= 25 {
			break
		}
		fmt.Fprintf(&b, "- %s at %s (%s)\n", job.Title, job.Company, job.Location)
	}
	if len(contacts) > 0 {
		b.WriteString("\nKnown contacts:\n")
		for i, c := range contacts {
			if i >= 25 {
				break
			}
			fmt.Fprintf(&b, "- %s, %s at %s\n", c.Name, c.Title, c.Company)
		}
	}
	return b.String()
}
