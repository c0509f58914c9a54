package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jobrover/jobrover/internal/canonical"
	"github.com/jobrover/jobrover/internal/metrics"
	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/scan"
)

const leverBaseURL = "https://api.lever.co"

// Lever fetches postings from the public Lever postings API.
type Lever struct {
	fetcher scan.Fetcher
	clock   scan.Clock
}

// NewLever builds the Lever connector.
func NewLever(fetcher scan.Fetcher, clock scan.Clock) *Lever {
	return &Lever{fetcher: fetcher, clock: clock}
}

type leverPosting struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	HostedURL     string `json:"hostedUrl"`
	ApplyURL      string `json:"applyUrl"`
	CreatedAt     int64  `json:"createdAt"`
	WorkplaceType string `json:"workplaceType"`
	Description   string `json:"descriptionPlain"`
	Categories    struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
}

// Fetch pulls the site's postings and canonicalizes each one.
func (l *Lever) Fetch(ctx context.Context, cfg scan.ConnectorConfig, budget *policy.Enforcer) (scan.ConnectorResult, error) {
	if cfg.Site == "" {
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: missing site")
	}

	base := cfg.Endpoint
	if base == "" {
		base = leverBaseURL
	}
	endpoint := fmt.Sprintf("%s/v0/postings/%s?mode=json", base, cfg.Site)

	domain := canonical.Domain(endpoint)
	if !budget.CheckDomain(domain) {
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: %w", policy.ErrDomainNotAllowed)
	}
	if !budget.Consume(policy.ResourcePages, cfg.Site, 1) {
		return scan.ConnectorResult{OK: true}, nil
	}
	if budget.Simulated() {
		return scan.ConnectorResult{OK: true, Pages: 1}, nil
	}

	if err := budget.WaitRate(ctx, domain); err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: %w", err)
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	resp, err := l.fetcher.Fetch(ctx, scan.FetchRequest{URL: endpoint, Headers: headers})
	if err != nil {
		metrics.ObservePageFetch(string(scan.ATSLever), "error")
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: fetch postings: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObservePageFetch(string(scan.ATSLever), "error")
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: postings returned status %d", resp.StatusCode)
	}
	metrics.ObservePageFetch(string(scan.ATSLever), "ok")

	var postings []leverPosting
	if err := json.Unmarshal(resp.Body, &postings); err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("lever connector: decode postings: %w", err)
	}

	result := scan.ConnectorResult{OK: true, Pages: 1}
	for _, raw := range postings {
		if !budget.Consume(policy.ResourceJobs, cfg.Site, 1) {
			result.Errors = append(result.Errors, "job budget exhausted, enumeration stopped")
			break
		}
		job := scan.CanonicalJob{
			ExternalID:  raw.ID,
			Title:       raw.Text,
			Company:     firstNonEmpty(cfg.Company, cfg.Site),
			Location:    raw.Categories.Location,
			Remote:      leverRemote(raw.WorkplaceType),
			Description: raw.Description,
			URL:         raw.HostedURL,
			ApplyURL:    firstNonEmpty(raw.ApplyURL, raw.HostedURL),
			PostedAt:    leverTime(raw.CreatedAt),
		}
		result.Jobs = append(result.Jobs, canonicalize(job, l.clock))
	}
	metrics.ObserveJobsIngested(string(scan.ATSLever), len(result.Jobs))
	return result, nil
}

func leverRemote(workplaceType string) scan.RemoteType {
	switch workplaceType {
	case "remote":
		return scan.RemoteFully
	case "hybrid":
		return scan.RemoteHybrid
	case "onsite", "on-site":
		return scan.RemoteOnsite
	default:
		return ""
	}
}

func leverTime(millis int64) *time.Time {
	if millis <= 0 {
		return nil
	}
	ts := time.UnixMilli(millis).UTC()
	return &ts
}
