package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jobrover/jobrover/internal/scan"
)

// keyBytes truncates the SHA-256 digest to 16 bytes (32 hex chars).
// 128 bits keeps accidental collisions out of reach for any realistic
// posting corpus while halving key storage.
const keyBytes = 16

// DedupeKey derives the stable identity of a posting. Two sightings of
// the same real-world posting yield the same key regardless of which
// source produced them or how company/title are cased.
//
// The key material is the normalized apply URL (job URL as fallback).
// When the posting has no usable URL the key is derived from the
// company and title alone. When the connector marks the URL as shared
// between several roles (SharedURL), company and title are mixed in
// addition to the URL so distinct roles behind one listing URL stay
// distinct.
func DedupeKey(job scan.CanonicalJob) string {
	parts := make([]string, 0, 2)

	rawURL := job.ApplyURL
	if rawURL == "" {
		rawURL = job.URL
	}
	if rawURL != "" {
		if normalized, err := NormalizeURL(rawURL); err == nil {
			parts = append(parts, normalized)
		} else {
			parts = append(parts, strings.TrimSpace(rawURL))
		}
	}

	if len(parts) == 0 || job.SharedURL {
		parts = append(parts, foldIdentity(job.Company)+"|"+foldIdentity(job.Title))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:keyBytes])
}

// foldIdentity lower-cases and collapses runs of whitespace so casing
// and spacing differences never split identities.
func foldIdentity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
