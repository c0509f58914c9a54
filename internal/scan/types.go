// Package scan defines core types shared across subsystems.
package scan

import (
	"time"
)

// ATSType identifies the applicant-tracking-system family behind a source.
type ATSType string

// Known ATS families. UnknownATS is a valid, explicit classification.
const (
	ATSGreenhouse ATSType = "greenhouse"
	ATSLever      ATSType = "lever"
	ATSWorkday    ATSType = "workday"
	ATSAshby      ATSType = "ashby"
	UnknownATS    ATSType = "unknown"
)

// ScrapeStrategy describes how a source should be approached.
type ScrapeStrategy string

// Scrape strategies selected by the fingerprinter.
const (
	StrategyBoardAPI ScrapeStrategy = "board-api"
	StrategyDOMCrawl ScrapeStrategy = "dom-crawl"
)

// ConnectorConfig carries the parameters a connector needs for one source.
// Endpoint overrides the connector's default base URL (used in tests).
type ConnectorConfig struct {
	BoardToken string `json:"board_token,omitempty"`
	Site       string `json:"site,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	Company    string `json:"company,omitempty"`
}

// FingerprintResult is the derived, cached classification of a source.
// Recomputation always overwrites a prior result, never merges.
type FingerprintResult struct {
	ATSType         ATSType         `json:"ats_type"`
	ScrapeStrategy  ScrapeStrategy  `json:"scrape_strategy"`
	ConnectorConfig ConnectorConfig `json:"connector_config"`
}

// Source is a configured job source with its fingerprint cache attached.
type Source struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Fingerprint         FingerprintResult `json:"fingerprint"`
	LastFingerprintedAt *time.Time        `json:"last_fingerprinted_at,omitempty"`
}

// RemoteType classifies a posting's work arrangement.
type RemoteType string

// Remote type values.
const (
	RemoteFully  RemoteType = "remote"
	RemoteHybrid RemoteType = "hybrid"
	RemoteOnsite RemoteType = "onsite"
	RemoteUnset  RemoteType = "unknown"
)

// JobState is a posting's open/closed status as reported by the source.
type JobState string

// Job state values.
const (
	JobOpen    JobState = "open"
	JobClosed  JobState = "closed"
	JobUnknown JobState = "unknown"
)

// CanonicalJob is the identity-bearing representation of a posting,
// independent of which source produced it. DedupeKey is the primary
// identity used for upsert, not the source's own id.
type CanonicalJob struct {
	ExternalID  string     `json:"external_id,omitempty"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location,omitempty"`
	Remote      RemoteType `json:"remote"`
	State       JobState   `json:"state"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	ApplyURL    string     `json:"apply_url,omitempty"`
	// SharedURL marks boards that reuse one listing URL for several
	// roles; the dedupe key then mixes in company and title.
	SharedURL  bool       `json:"shared_url,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	DedupeKey  string     `json:"dedupe_key"`
}

// ConnectorResult is what a connector returns for one source.
type ConnectorResult struct {
	Jobs   []CanonicalJob `json:"jobs"`
	OK     bool           `json:"ok"`
	Errors []string       `json:"errors,omitempty"`
	Pages  int            `json:"pages"`
}

// PolicyConstraints is the budget envelope bounding one run. A run
// always executes against a fully-resolved set; Resolve fills defaults
// for zero-valued fields.
type PolicyConstraints struct {
	MaxPagesPerSource int           `json:"max_pages_per_source" mapstructure:"max_pages_per_source"`
	MaxJobsPerSource  int           `json:"max_jobs_per_source" mapstructure:"max_jobs_per_source"`
	MaxTokensPerRun   int64         `json:"max_tokens_per_run" mapstructure:"max_tokens_per_run"`
	MaxRunDuration    time.Duration `json:"max_run_duration" mapstructure:"max_run_duration"`
	RatePerDomain     float64       `json:"rate_per_domain" mapstructure:"rate_per_domain"`
	AllowDomains      []string      `json:"allow_domains,omitempty" mapstructure:"allow_domains"`
	BlockDomains      []string      `json:"block_domains,omitempty" mapstructure:"block_domains"`
	Simulate          bool          `json:"simulate" mapstructure:"simulate"`
}

// Default budget values applied by Resolve.
const (
	DefaultMaxPagesPerSource = 10
	DefaultMaxJobsPerSource  = 200
	DefaultMaxTokensPerRun   = int64(100_000)
	DefaultMaxRunDuration    = 10 * time.Minute
	DefaultRatePerDomain     = 2.0
)

// Resolve merges an optional override on top of defaults. The result is
// always complete; zero-valued budget fields take the default.
func (c PolicyConstraints) Resolve() PolicyConstraints {
	out := c
	if out.MaxPagesPerSource <= 0 {
		out.MaxPagesPerSource = DefaultMaxPagesPerSource
	}
	if out.MaxJobsPerSource <= 0 {
		out.MaxJobsPerSource = DefaultMaxJobsPerSource
	}
	if out.MaxTokensPerRun <= 0 {
		out.MaxTokensPerRun = DefaultMaxTokensPerRun
	}
	if out.MaxRunDuration <= 0 {
		out.MaxRunDuration = DefaultMaxRunDuration
	}
	if out.RatePerDomain <= 0 {
		out.RatePerDomain = DefaultRatePerDomain
	}
	return out
}

// ScanConfig is the immutable per-run input.
type ScanConfig struct {
	UserID             string             `json:"user_id"`
	SourceIDs          []string           `json:"source_ids,omitempty"`
	IncludeContactHunt bool               `json:"include_contact_hunt"`
	IncludeDrafts      bool               `json:"include_drafts"`
	IncludeBlueprint   bool               `json:"include_blueprint"`
	Strict             bool               `json:"strict"`
	TopK               int                `json:"top_k"`
	Constraints        *PolicyConstraints `json:"constraints,omitempty"`
}

// Contact is a person discovered by the contact-hunt capability.
type Contact struct {
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	Email      string `json:"email,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
	Company    string `json:"company"`
}

// Draft is a generated outreach or cover-letter text tied to a posting.
type Draft struct {
	ID        string    `json:"id"`
	JobKey    string    `json:"job_key"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
