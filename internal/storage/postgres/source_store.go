package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobrover/jobrover/internal/scan"
)

// SourceStore reads configured sources and writes fingerprint cache
// fields. Fingerprints live in a jsonb column; a save replaces the
// whole document.
type SourceStore struct {
	pool db
}

// NewSourceStore constructs a SourceStore on an existing pool.
func NewSourceStore(pool db) (*SourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SourceStore{pool: pool}, nil
}

// ListSources returns the user's sources, optionally filtered by IDs.
func (s *SourceStore) ListSources(ctx context.Context, userID string, ids []string) ([]scan.Source, error) {
	query := `
SELECT id, user_id, name, url, fingerprint, last_fingerprinted_at
FROM sources WHERE user_id = $1`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []scan.Source
	for rows.Next() {
		var (
			source      scan.Source
			fingerprint []byte
		)
		if err := rows.Scan(
			&source.ID,
			&source.UserID,
			&source.Name,
			&source.URL,
			&fingerprint,
			&source.LastFingerprintedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if len(fingerprint) > 0 {
			if err := json.Unmarshal(fingerprint, &source.Fingerprint); err != nil {
				return nil, fmt.Errorf("decode fingerprint for source %q: %w", source.ID, err)
			}
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// SaveFingerprint overwrites a source's cached fingerprint. It never
// merges with the previous value.
func (s *SourceStore) SaveFingerprint(ctx context.Context, sourceID string, fp scan.FingerprintResult, at time.Time) error {
	payload, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET fingerprint = $2, last_fingerprinted_at = $3 WHERE id = $1`,
		sourceID, payload, at)
	if err != nil {
		return fmt.Errorf("save fingerprint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save fingerprint: source %q not found", sourceID)
	}
	return nil
}
