package connector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jobrover/jobrover/internal/canonical"
	"github.com/jobrover/jobrover/internal/metrics"
	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/scan"
)

// DOMCrawl is the generic connector for sources without a structured
// board API. It renders the page with a real browser and extracts job
// links from the DOM. Coverage is best-effort; unknown boards vary too
// much for anything stronger.
type DOMCrawl struct {
	renderer scan.Renderer
	clock    scan.Clock
}

// NewDOMCrawl builds the rendered-DOM connector.
func NewDOMCrawl(renderer scan.Renderer, clock scan.Clock) *DOMCrawl {
	return &DOMCrawl{renderer: renderer, clock: clock}
}

// Path fragments that mark an anchor as a probable job posting.
var jobPathHints = []string{"/job/", "/jobs/", "/position", "/opening", "/careers/", "/vacanc", "/role/"}

// Fetch renders the source page and extracts job links. One rendered
// page costs one page of budget; each extracted link costs one job.
func (d *DOMCrawl) Fetch(ctx context.Context, cfg scan.ConnectorConfig, budget *policy.Enforcer) (scan.ConnectorResult, error) {
	if cfg.SourceURL == "" {
		return scan.ConnectorResult{}, fmt.Errorf("domcrawl connector: missing source url")
	}

	domain := canonical.Domain(cfg.SourceURL)
	if !budget.CheckDomain(domain) {
		return scan.ConnectorResult{}, fmt.Errorf("domcrawl connector: %w", policy.ErrDomainNotAllowed)
	}
	if !budget.Consume(policy.ResourcePages, cfg.SourceURL, 1) {
		return scan.ConnectorResult{OK: true}, nil
	}
	if budget.Simulated() {
		return scan.ConnectorResult{OK: true, Pages: 1}, nil
	}

	if err := budget.WaitRate(ctx, domain); err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("domcrawl connector: %w", err)
	}

	rendered, err := d.renderer.Navigate(ctx, cfg.SourceURL)
	if err != nil {
		metrics.ObservePageFetch(string(scan.UnknownATS), "error")
		return scan.ConnectorResult{}, fmt.Errorf("domcrawl connector: render page: %w", err)
	}
	metrics.ObservePageFetch(string(scan.UnknownATS), "ok")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
	if err != nil {
		return scan.ConnectorResult{}, fmt.Errorf("domcrawl connector: parse dom: %w", err)
	}

	base, err := url.Parse(rendered.URL)
	if err != nil {
		base, _ = url.Parse(cfg.SourceURL)
	}

	result := scan.ConnectorResult{OK: true, Pages: 1}
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		title := strings.TrimSpace(sel.Text())
		link, ok := resolveJobLink(base, href)
		if !ok || title == "" {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}

		if !budget.Consume(policy.ResourceJobs, cfg.SourceURL, 1) {
			result.Errors = append(result.Errors, "job budget exhausted, enumeration stopped")
			return false
		}
		job := scan.CanonicalJob{
			Title:    title,
			Company:  firstNonEmpty(cfg.Company, domain),
			URL:      link,
			ApplyURL: link,
		}
		result.Jobs = append(result.Jobs, canonicalize(job, d.clock))
		return true
	})

	metrics.ObserveJobsIngested(string(scan.UnknownATS), len(result.Jobs))
	return result, nil
}

// resolveJobLink resolves href against the page URL and keeps only
// same-looking job links with an http(s) scheme.
func resolveJobLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	lowerPath := strings.ToLower(resolved.Path)
	for _, hint := range jobPathHints {
		if strings.Contains(lowerPath, hint) {
			return resolved.String(), true
		}
	}
	return "", false
}
