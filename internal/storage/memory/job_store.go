package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// JobStore provides an in-memory JobStore implementation for
// development/testing. Claim is atomic under the store mutex, matching the
// compare-and-set contract of the Postgres implementation.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]nightlight.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]nightlight.Job)}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job nightlight.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (nightlight.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nightlight.Job{}, fmt.Errorf("job %s: %w", jobID, nightlight.ErrNotFound)
	}
	return job, nil
}

// ListPending returns pending jobs oldest-first, ties broken by id.
func (s *JobStore) ListPending(_ context.Context, limit int) ([]nightlight.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []nightlight.Job
	for _, job := range s.jobs {
		if job.Status == nightlight.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Claim transitions pending -> running, returning false if the job was
// already claimed.
func (s *JobStore) Claim(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: %w", jobID, nightlight.ErrNotFound)
	}
	if job.Status != nightlight.JobStatusPending {
		return false, nil
	}
	job.Status = nightlight.JobStatusRunning
	job.UpdatedAt = nextUpdate(job.UpdatedAt)
	s.jobs[jobID] = job
	return true, nil
}

// Finish writes a terminal status. Transitions out of a terminal state are
// rejected.
func (s *JobStore) Finish(_ context.Context, jobID string, outcome nightlight.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, nightlight.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already in terminal state %s", jobID, job.Status)
	}
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", outcome.Status)
	}
	job.Status = outcome.Status
	job.ErrorMessage = outcome.ErrorMessage
	if outcome.Metadata != nil {
		job.Metadata = *outcome.Metadata
	}
	job.UpdatedAt = nextUpdate(job.UpdatedAt)
	s.jobs[jobID] = job
	return nil
}

// HasETLJob reports whether an etl job exists for the (area, month) pair.
func (s *JobStore) HasETLJob(_ context.Context, areaID string, month nightlight.Month) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Type != nightlight.JobTypeETL || job.AreaID != areaID {
			continue
		}
		if job.Metadata.ETL != nil && job.Metadata.ETL.Month == month {
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of every job (test helper).
func (s *JobStore) All() []nightlight.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]nightlight.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// nextUpdate guarantees updated_at strictly increases even when the wall
// clock has not ticked between transitions.
func nextUpdate(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
