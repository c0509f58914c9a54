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

const greenhouseBaseURL = "https://boards-api.greenhouse.io"

// Greenhouse fetches a board's jobs from the public Greenhouse
// board-export API.
type Greenhouse struct {
	fetcher scan.Fetcher
	clock   scan.Clock
}

// NewGreenhouse builds the Greenhouse connector.
func NewGreenhouse(fetcher scan.Fetcher, clock scan.Clock) *Greenhouse {
	return &Greenhouse{fetcher: fetcher, clock: clock}
}

type greenhouseJob struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	AbsoluteURL    string `json:"absolute_url"`
	Content        string `json:"content"`
	CompanyName    string `json:"company_name"`
	UpdatedAt      string `json:"updated_at"`
	FirstPublished string `json:"first_published"`
	Location       struct {
		Name string `json:"name"`
	} `json:"location"`
}

type greenhouseBoard struct {
	Jobs []greenhouseJob `json:"jobs"`
}

// Fetch pulls the board export and canonicalizes each posting. The
// export is a single document, so one page of budget covers it; the
// job budget bounds how many postings are accepted.
func (g *Greenhouse) Fetch(ctx context.Context, cfg scan.ConnectorConfig, budget *policy.Enforcer) (scan.ConnectorResult, error) {
	if cfg.BoardToken == "" {
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: missing board token")
	}

	base := cfg.Endpoint
	if base == "" {
		base = greenhouseBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1/boards/%s/jobs?content=true", base, cfg.BoardToken)

	domain := canonical.Domain(endpoint)
	if !budget.CheckDomain(domain) {
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: %w", policy.ErrDomainNotAllowed)
	}
	if !budget.Consume(policy.ResourcePages, cfg.BoardToken, 1) {
		return scan.ConnectorResult{OK: true}, nil
	}
	if budget.Simulated() {
		return scan.ConnectorResult{OK: true, Pages: 1}, nil
	}

	if err := budget.WaitRate(ctx, domain); err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: %w", err)
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	resp, err := g.fetcher.Fetch(ctx, scan.FetchRequest{URL: endpoint, Headers: headers})
	if err != nil {
		metrics.ObservePageFetch(string(scan.ATSGreenhouse), "error")
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: fetch board: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObservePageFetch(string(scan.ATSGreenhouse), "error")
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: board returned status %d", resp.StatusCode)
	}
	metrics.ObservePageFetch(string(scan.ATSGreenhouse), "ok")

	var board greenhouseBoard
	if err := json.Unmarshal(resp.Body, &board); err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("greenhouse connector: decode board: %w", err)
	}

	result := scan.ConnectorResult{OK: true, Pages: 1}
	for _, raw := range board.Jobs {
		if !budget.Consume(policy.ResourceJobs, cfg.BoardToken, 1) {
			result.Errors = append(result.Errors, "job budget exhausted, enumeration stopped")
			break
		}
		job := scan.CanonicalJob{
			ExternalID:  fmt.Sprintf("%d", raw.ID),
			Title:       raw.Title,
			Company:     firstNonEmpty(raw.CompanyName, cfg.Company, cfg.BoardToken),
			Location:    raw.Location.Name,
			Description: raw.Content,
			URL:         raw.AbsoluteURL,
			ApplyURL:    raw.AbsoluteURL,
			PostedAt:    parseGreenhouseTime(raw.FirstPublished, raw.UpdatedAt),
		}
		result.Jobs = append(result.Jobs, canonicalize(job, g.clock))
	}
	metrics.ObserveJobsIngested(string(scan.ATSGreenhouse), len(result.Jobs))
	return result, nil
}

// parseGreenhouseTime tries first_published then updated_at; both are
// RFC3339 with a numeric zone.
func parseGreenhouseTime(candidates ...string) *time.Time {
	for _, value := range candidates {
		if value == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
