// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// PoolConfig controls the Postgres connection pool shared by the stores.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the stores use; pgxmock satisfies
// it for tests.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx connection pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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

// JobStore persists processing jobs in Postgres.
type JobStore struct {
	db querier
}

// NewJobStore wraps a pool (or pgxmock pool in tests).
func NewJobStore(db querier) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job nightlight.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	query := `
		INSERT INTO processing_jobs (id, area_id, job_type, status, error_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = s.db.Exec(ctx, query,
		job.ID, job.AreaID, job.Type, job.Status, job.ErrorMessage, meta, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get retrieves a single job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (nightlight.Job, error) {
	query := `
		SELECT id, area_id, job_type, status, error_message, metadata, created_at, updated_at
		FROM processing_jobs
		WHERE id = $1;
	`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nightlight.Job{}, fmt.Errorf("job %s: %w", jobID, nightlight.ErrNotFound)
		}
		return nightlight.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListPending returns pending jobs oldest-first, ties broken by id so claim
// order is deterministic.
func (s *JobStore) ListPending(ctx context.Context, limit int) ([]nightlight.Job, error) {
	query := `
		SELECT id, area_id, job_type, status, error_message, metadata, created_at, updated_at
		FROM processing_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1;
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []nightlight.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// Claim atomically transitions pending -> running. The status predicate in
// the WHERE clause is the sole synchronization between scheduler instances.
func (s *JobStore) Claim(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE processing_jobs
		SET status = 'running',
		    updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE id = $1 AND status = 'pending';
	`
	tag, err := s.db.Exec(ctx, query, jobID)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish writes a terminal status. The running-state predicate prevents
// transitions out of terminal states.
func (s *JobStore) Finish(ctx context.Context, jobID string, outcome nightlight.JobOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", outcome.Status)
	}
	var meta any
	if outcome.Metadata != nil {
		encoded, err := json.Marshal(outcome.Metadata)
		if err != nil {
			return fmt.Errorf("marshal outcome metadata: %w", err)
		}
		meta = encoded
	}
	query := `
		UPDATE processing_jobs
		SET status = $2,
		    error_message = $3,
		    metadata = COALESCE($4, metadata),
		    updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE id = $1 AND status = 'running';
	`
	tag, err := s.db.Exec(ctx, query, jobID, outcome.Status, outcome.ErrorMessage, meta)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running (missing or already terminal)", jobID)
	}
	return nil
}

// HasETLJob reports whether any etl_processing job exists for (area, month).
func (s *JobStore) HasETLJob(ctx context.Context, areaID string, month nightlight.Month) (bool, error) {
	monthJSON, err := json.Marshal(month)
	if err != nil {
		return false, fmt.Errorf("marshal month: %w", err)
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processing_jobs
			WHERE area_id = $1
			  AND job_type = 'etl_processing'
			  AND metadata #> '{etl,month}' = $2::jsonb
		);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, areaID, monthJSON).Scan(&exists); err != nil {
		return false, fmt.Errorf("check etl job existence: %w", err)
	}
	return exists, nil
}

func scanJob(row pgx.Row) (nightlight.Job, error) {
	var (
		job  nightlight.Job
		meta []byte
	)
	if err := row.Scan(
		&job.ID, &job.AreaID, &job.Type, &job.Status, &job.ErrorMessage, &meta, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nightlight.Job{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nightlight.Job{}, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	return job, nil
}
