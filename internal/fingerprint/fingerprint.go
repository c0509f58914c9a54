// Package fingerprint classifies which ATS family serves a career-site
// URL and selects a scrape strategy for it. Detection is deterministic
// and side-effect free; callers own caching and invalidation.
package fingerprint

import (
	"net/url"
	"strings"

	"github.com/jobrover/jobrover/internal/canonical"
	"github.com/jobrover/jobrover/internal/scan"
)

// rule matches one ATS URL shape. Rules are evaluated in order, most
// specific first; the first match wins.
type rule struct {
	match func(host, path string) bool
	build func(host, path string) scan.FingerprintResult
}

var rules = []rule{
	{
		match: func(host, path string) bool {
			return host == "boards.greenhouse.io" || host == "job-boards.greenhouse.io" ||
				(strings.HasSuffix(host, "greenhouse.io") && strings.Contains(path, "/embed/job_board"))
		},
		build: func(_, path string) scan.FingerprintResult {
			return scan.FingerprintResult{
				ATSType:        scan.ATSGreenhouse,
				ScrapeStrategy: scan.StrategyBoardAPI,
				ConnectorConfig: scan.ConnectorConfig{
					BoardToken: greenhouseToken(path),
				},
			}
		},
	},
	{
		match: func(host, _ string) bool {
			return host == "jobs.lever.co" || host == "jobs.eu.lever.co"
		},
		build: func(_, path string) scan.FingerprintResult {
			return scan.FingerprintResult{
				ATSType:        scan.ATSLever,
				ScrapeStrategy: scan.StrategyBoardAPI,
				ConnectorConfig: scan.ConnectorConfig{
					Site: firstPathSegment(path),
				},
			}
		},
	},
	{
		match: func(host, _ string) bool {
			return strings.HasSuffix(host, "myworkdayjobs.com") || strings.HasSuffix(host, "workday.com")
		},
		build: func(_, _ string) scan.FingerprintResult {
			return scan.FingerprintResult{
				ATSType:        scan.ATSWorkday,
				ScrapeStrategy: scan.StrategyDOMCrawl,
			}
		},
	},
	{
		match: func(host, _ string) bool {
			return strings.HasSuffix(host, "ashbyhq.com")
		},
		build: func(_, path string) scan.FingerprintResult {
			return scan.FingerprintResult{
				ATSType:        scan.ATSAshby,
				ScrapeStrategy: scan.StrategyDOMCrawl,
				ConnectorConfig: scan.ConnectorConfig{
					Site: firstPathSegment(path),
				},
			}
		},
	},
}

// domMarkers map rendered-page signatures to ATS families for sources
// whose URL alone is ambiguous (career pages proxied behind a custom
// domain). Checked in order.
var domMarkers = []struct {
	marker string
	ats    scan.ATSType
}{
	{marker: "boards.greenhouse.io/embed", ats: scan.ATSGreenhouse},
	{marker: "grnhse_app", ats: scan.ATSGreenhouse},
	{marker: "lever-jobs-embed", ats: scan.ATSLever},
	{marker: "jobs.lever.co", ats: scan.ATSLever},
	{marker: "myworkdayjobs.com", ats: scan.ATSWorkday},
	{marker: "_ashby_jobs", ats: scan.ATSAshby},
}

// Detect classifies a source URL. Unmatched URLs yield UnknownATS with
// the generic dom-crawl strategy and an empty connector config.
func Detect(rawURL string) scan.FingerprintResult {
	normalized, err := canonical.NormalizeURL(rawURL)
	if err != nil {
		return unknown(rawURL)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return unknown(rawURL)
	}
	host := u.Hostname()
	for _, r := range rules {
		if r.match(host, u.Path) {
			fp := r.build(host, u.Path)
			fp.ConnectorConfig.SourceURL = normalized
			return fp
		}
	}
	return unknown(normalized)
}

// DetectWithDOM refines a URL-only detection using a rendered page's
// HTML. Fetching the page is the caller's job; this function stays
// pure. A URL match always wins over DOM markers.
func DetectWithDOM(rawURL, html string) scan.FingerprintResult {
	fp := Detect(rawURL)
	if fp.ATSType != scan.UnknownATS {
		return fp
	}
	lower := strings.ToLower(html)
	for _, m := range domMarkers {
		if strings.Contains(lower, m.marker) {
			fp.ATSType = m.ats
			return fp
		}
	}
	return fp
}

func unknown(sourceURL string) scan.FingerprintResult {
	return scan.FingerprintResult{
		ATSType:        scan.UnknownATS,
		ScrapeStrategy: scan.StrategyDOMCrawl,
		ConnectorConfig: scan.ConnectorConfig{
			SourceURL: sourceURL,
		},
	}
}

func greenhouseToken(path string) string {
	if strings.Contains(path, "/embed/job_board") {
		return ""
	}
	return firstPathSegment(path)
}

func firstPathSegment(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}
	return ""
}
