// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobrover/jobrover/internal/scan"
)

// PoolConfig controls the shared Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// db is the subset of pgxpool.Pool the stores use. pgxmock satisfies
// it in tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists canonical jobs in Postgres, keyed by dedupe key.
type JobStore struct {
	pool db
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(pool db) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertJobSQL = `
INSERT INTO jobs (
	dedupe_key,
	external_id,
	source_id,
	title,
	company,
	location,
	remote,
	state,
	description,
	url,
	apply_url,
	shared_url,
	posted_at,
	last_seen_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (dedupe_key) DO UPDATE SET
	external_id = EXCLUDED.external_id,
	source_id = EXCLUDED.source_id,
	title = EXCLUDED.title,
	company = EXCLUDED.company,
	location = EXCLUDED.location,
	remote = EXCLUDED.remote,
	state = EXCLUDED.state,
	description = EXCLUDED.description,
	url = EXCLUDED.url,
	apply_url = EXCLUDED.apply_url,
	shared_url = EXCLUDED.shared_url,
	posted_at = COALESCE(jobs.posted_at, EXCLUDED.posted_at),
	last_seen_at = EXCLUDED.last_seen_at
RETURNING (xmax = 0) AS created`

// UpsertJob inserts or replaces a job by dedupe key. Replacement is
// full-row except posted_at, which keeps its first non-null value.
func (s *JobStore) UpsertJob(ctx context.Context, job scan.CanonicalJob) (bool, error) {
	if job.DedupeKey == "" {
		return false, fmt.Errorf("job store: dedupe key is required")
	}
	var created bool
	err := s.pool.QueryRow(ctx, upsertJobSQL,
		job.DedupeKey,
		job.ExternalID,
		job.SourceID,
		job.Title,
		job.Company,
		job.Location,
		string(job.Remote),
		string(job.State),
		job.Description,
		job.URL,
		job.ApplyURL,
		job.SharedURL,
		job.PostedAt,
		job.LastSeenAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert job: %w", err)
	}
	return created, nil
}

const selectJobColumns = `
	dedupe_key, external_id, source_id, title, company, location,
	remote, state, description, url, apply_url, shared_url,
	posted_at, last_seen_at`

// GetJob fetches a job by dedupe key.
func (s *JobStore) GetJob(ctx context.Context, dedupeKey string) (scan.CanonicalJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+selectJobColumns+` FROM jobs WHERE dedupe_key = $1`, dedupeKey)
	job, err := scanJob(row)
	if err != nil {
		return scan.CanonicalJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs ordered by last seen, newest first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]scan.CanonicalJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT`+selectJobColumns+` FROM jobs ORDER BY last_seen_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scan.CanonicalJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (scan.CanonicalJob, error) {
	var (
		job    scan.CanonicalJob
		remote string
		state  string
	)
	err := row.Scan(
		&job.DedupeKey,
		&job.ExternalID,
		&job.SourceID,
		&job.Title,
		&job.Company,
		&job.Location,
		&remote,
		&state,
		&job.Description,
		&job.URL,
		&job.ApplyURL,
		&job.SharedURL,
		&job.PostedAt,
		&job.LastSeenAt,
	)
	if err != nil {
		return scan.CanonicalJob{}, err
	}
	job.Remote = scan.RemoteType(remote)
	job.State = scan.JobState(state)
	return job, nil
}
