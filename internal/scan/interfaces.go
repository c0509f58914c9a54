package scan

import (
	"context"
	"net/http"
	"time"
)

// JobStore persists canonical jobs keyed by dedupe key. Upsert must be
// full-row: mutable fields are replaced, posted_at and first-seen
// history are preserved, last_seen_at advances.
type JobStore interface {
	UpsertJob(ctx context.Context, job CanonicalJob) (created bool, err error)
	GetJob(ctx context.Context, dedupeKey string) (CanonicalJob, error)
	ListJobs(ctx context.Context, limit int) ([]CanonicalJob, error)
}

// PlanStore persists workflow plans and their steps.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *WorkflowPlan) error
	UpdatePlanStatus(ctx context.Context, planID string, status PlanStatus, updatedAt time.Time) error
	UpdateStep(ctx context.Context, planID string, step WorkflowStep) error
	GetPlan(ctx context.Context, planID string) (*WorkflowPlan, error)
}

// SourceStore reads configured sources and writes back fingerprint
// cache fields. SaveFingerprint overwrites; it never merges.
type SourceStore interface {
	ListSources(ctx context.Context, userID string, ids []string) ([]Source, error)
	SaveFingerprint(ctx context.Context, sourceID string, fp FingerprintResult, at time.Time) error
}

// FetchRequest captures everything needed for one HTTP fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher fetches a URL and returns the body plus metadata. Board-API
// connectors use it for structured JSON endpoints.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderResult is a fully rendered page.
type RenderResult struct {
	URL         string
	HTML        string
	StatusCode  int
	Screenshots [][]byte
}

// Renderer navigates with a real browser and returns the rendered DOM.
// Only the dom-crawl strategy uses it.
type Renderer interface {
	Navigate(ctx context.Context, url string) (RenderResult, error)
}

// CompletionRequest is one call to the content-generation capability.
// Timeout is required; Mode is "text" or "json".
type CompletionRequest struct {
	Prompt  string
	Mode    string
	Timeout time.Duration
}

// CompletionResponse carries the model output plus the token usage the
// provider reported. TokensUsed of zero means the provider gave no
// count and the caller should estimate.
type CompletionResponse struct {
	Text       string
	TokensUsed int64
}

// Completer is the language-model completion boundary. It may fail by
// timeout or malformed output; callers parse defensively and substitute
// explicit fallbacks rather than propagate parse errors.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// HuntResult is one company's discovered contacts plus the token cost
// of finding them.
type HuntResult struct {
	Contacts   []Contact
	TokensUsed int64
}

// ContactHunter finds outreach contacts for a company.
type ContactHunter interface {
	HuntContacts(ctx context.Context, company, domain string) (HuntResult, error)
}

// BlobStore writes raw artifacts (screenshots, rendered HTML) and
// returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ScanRequest wraps a scan ready to run.
type ScanRequest struct {
	PlanID    string
	Config    ScanConfig
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for scan runs.
type Queue interface {
	Enqueue(ctx context.Context, req ScanRequest) error
	Dequeue(ctx context.Context) (ScanRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces plan and step IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
