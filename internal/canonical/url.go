// Package canonical provides URL normalization and dedupe-key
// derivation for job postings. All functions are pure and safe for
// concurrent use.
package canonical

import (
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during normalization.
// Path-significant parameters (board tokens, job ids) are kept.
var trackingParams = map[string]struct{}{
	"gclid":    {},
	"fbclid":   {},
	"msclkid":  {},
	"mc_cid":   {},
	"mc_eid":   {},
	"ref":      {},
	"referrer": {},
	"source":   {},
	"src":      {},
}

// NormalizeURL standardizes a URL so equivalent links compare equal.
// It lowercases the scheme and host, removes default ports, drops the
// fragment, strips known tracking parameters (including utm_*), sorts
// the remaining query, and trims a trailing slash except at the root.
// Idempotent: NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingParams[lower]
	return ok
}

// Domain extracts the lowercase hostname from a URL, or "" when the
// URL does not parse.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
