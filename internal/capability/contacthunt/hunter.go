// Package contacthunt discovers outreach contacts for a company by
// rendering its site and asking the completion capability to extract
// people from the page text. Output quality is inherently fuzzy, so
// parsing is defensive and an empty result is a valid outcome.
package contacthunt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/scan"
)

// Candidate pages probed for people, in order.
var teamPaths = []string{"/about", "/team", "/company"}

const (
	maxPageText       = 12_000
	completionTimeout = 30 * time.Second
)

// Hunter implements scan.ContactHunter with a Renderer plus Completer.
type Hunter struct {
	renderer  scan.Renderer
	completer scan.Completer
	logger    *zap.Logger
}

// New builds a Hunter.
func New(renderer scan.Renderer, completer scan.Completer, logger *zap.Logger) *Hunter {
	return &Hunter{renderer: renderer, completer: completer, logger: logger}
}

type contactRecord struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Email      string `json:"email"`
	ProfileURL string `json:"profile_url"`
}

// HuntContacts renders the company's team pages and extracts people
// via a JSON completion. A page that fails to render is skipped; a
// completion that fails to parse yields no contacts rather than an
// error.
func (h *Hunter) HuntContacts(ctx context.Context, company, domain string) (scan.HuntResult, error) {
	if company == "" {
		return scan.HuntResult{}, fmt.Errorf("contact hunt: company is required")
	}

	pageText := h.collectPageText(ctx, domain)

	prompt := buildPrompt(company, pageText)
	resp, err := h.completer.Complete(ctx, scan.CompletionRequest{
		Prompt:  prompt,
		Mode:    "json",
		Timeout: completionTimeout,
	})
	if err != nil {
		return scan.HuntResult{}, fmt.Errorf("contact hunt: completion: %w", err)
	}

	result := scan.HuntResult{TokensUsed: resp.TokensUsed}

	var records []contactRecord
	if err := json.Unmarshal([]byte(resp.Text), &records); err != nil {
		h.logger.Warn("contact hunt returned unparseable output, dropping",
			zap.String("company", company),
			zap.Error(err),
		)
		return result, nil
	}
	for _, r := range records {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		result.Contacts = append(result.Contacts, scan.Contact{
			Name:       name,
			Title:      strings.TrimSpace(r.Title),
			Email:      strings.TrimSpace(r.Email),
			ProfileURL: strings.TrimSpace(r.ProfileURL),
			Company:    company,
		})
	}
	return result, nil
}

// collectPageText renders candidate team pages until one yields text.
// Rendering is best-effort; a company with no reachable site still
// gets a name-only prompt.
func (h *Hunter) collectPageText(ctx context.Context, domain string) string {
	if domain == "" || h.renderer == nil {
		return ""
	}
	for _, path := range teamPaths {
		url := "https://" + domain + path
		rendered, err := h.renderer.Navigate(ctx, url)
		if err != nil {
			h.logger.Debug("team page render failed", zap.String("url", url), zap.Error(err))
			continue
		}
		text := pageText(rendered.HTML)
		if text != "" {
			if len(text) > maxPageText {
				text = text[:maxPageText]
			}
			return text
		}
	}
	return ""
}

func buildPrompt(company, pageText string) string {
	var b strings.Builder
	b.WriteString("Extract hiring-relevant people (recruiters, hiring managers, engineering leaders) for the company ")
	b.WriteString(company)
	b.WriteString(".\nRespond with a JSON array of objects with keys: name, title, email, profile_url. ")
	b.WriteString("Use empty strings for unknown fields. Respond with [] if nobody can be identified.\n")
	if pageText != "" {
		b.WriteString("\nPage text:\n")
		b.WriteString(pageText)
	}
	return b.String()
}

// pageText extracts the visible text of a rendered page for prompt
// material, with whitespace collapsed.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
