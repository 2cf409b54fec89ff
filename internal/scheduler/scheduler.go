// Package scheduler implements the polling job scheduler: it claims pending
// jobs from the store and runs them on a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/metrics"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// DefaultEventsTopic is where job lifecycle events are published.
const DefaultEventsTopic = "nightlight-job-events"

// Config controls scheduler behavior.
type Config struct {
	// PollInterval is the gap between poll cycles.
	PollInterval time.Duration
	// Concurrency bounds the number of jobs running at once.
	Concurrency int
	// JobTimeout cancels a single job's context after this long.
	JobTimeout time.Duration
	// BatchLimit caps how many pending jobs one cycle considers.
	BatchLimit int
	// EventsTopic receives job lifecycle events.
	EventsTopic string
}

// JobRunner executes one claimed job and reports its terminal outcome.
type JobRunner interface {
	Run(ctx context.Context, job nightlight.Job) nightlight.JobOutcome
}

// JobEvent is the payload published on every terminal job transition.
type JobEvent struct {
	JobID        string               `json:"job_id"`
	AreaID       string               `json:"area_id"`
	Type         nightlight.JobType   `json:"job_type"`
	Status       nightlight.JobStatus `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// Scheduler polls the job store and dispatches claimed jobs to runners keyed
// by job type.
type Scheduler struct {
	jobs      nightlight.JobStore
	blobs     nightlight.BlobStore
	runners   map[nightlight.JobType]JobRunner
	publisher nightlight.Publisher
	clock     nightlight.Clock
	cfg       Config
	logger    *zap.Logger

	// cycleMu serializes poll cycles so a slow cycle is never overlapped by
	// the next tick.
	cycleMu sync.Mutex
}

// New constructs a Scheduler. The publisher may be nil, in which case no
// events are emitted.
func New(
	jobs nightlight.JobStore,
	blobs nightlight.BlobStore,
	exporter JobRunner,
	processor JobRunner,
	publisher nightlight.Publisher,
	clock nightlight.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Scheduler, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case exporter == nil:
		return nil, fmt.Errorf("export runner is required")
	case processor == nil:
		return nil, fmt.Errorf("processor runner is required")
	case clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 15 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = DefaultEventsTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:  jobs,
		blobs: blobs,
		runners: map[nightlight.JobType]JobRunner{
			nightlight.JobTypeExport: exporter,
			nightlight.JobTypeETL:    processor,
		},
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run polls until the context finishes. The first cycle starts immediately;
// later cycles follow the ticker. Ticks that arrive while a cycle is still
// draining are dropped, so at most one cycle is ever in flight.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll cycle: ensure storage is reachable, list pending
// jobs, claim each one and run the claimed jobs on the worker pool. The call
// returns once every claimed job has finished.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.clock.Now()
	result := s.runCycle(ctx)
	metrics.ObservePollCycle(result, s.clock.Now().Sub(start))
}

func (s *Scheduler) runCycle(ctx context.Context) string {
	// Bucket setup is retried every cycle so a blob-store outage at boot
	// heals without a restart. Jobs stay pending while storage is down.
	if err := s.blobs.EnsureBuckets(ctx); err != nil {
		s.logger.Warn("blob storage unavailable, skipping cycle", zap.Error(err))
		return "storage_unavailable"
	}

	pending, err := s.jobs.ListPending(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("listing pending jobs failed", zap.Error(err))
		return "list_failed"
	}
	if len(pending) == 0 {
		return "idle"
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	dispatched := 0
	for _, job := range pending {
		claimed, err := s.jobs.Claim(ctx, job.ID)
		if err != nil {
			s.logger.Error("claim failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		dispatched++
		wg.Add(1)
		sem <- struct{}{}
		go func(job nightlight.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()

	s.logger.Info("poll cycle finished",
		zap.Int("pending", len(pending)),
		zap.Int("dispatched", dispatched),
	)
	return "ok"
}

func (s *Scheduler) runJob(ctx context.Context, job nightlight.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := s.execute(ctx, job)

	// Finish with the cycle context rather than the per-job one, so a job
	// that timed out can still record its failure.
	if err := s.jobs.Finish(ctx, job.ID, outcome); err != nil {
		s.logger.Error("finish failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(outcome.Status)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveJob(string(job.Type), string(outcome.Status))

	if outcome.Status == nightlight.JobStatusFailed {
		s.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.String("error", outcome.ErrorMessage),
		)
	} else {
		s.logger.Info("job completed",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
		)
	}
	s.publishEvent(ctx, job, outcome)
}

// execute validates the job's metadata against its type and hands it to the
// matching runner under the per-job timeout.
func (s *Scheduler) execute(ctx context.Context, job nightlight.Job) nightlight.JobOutcome {
	if err := job.Metadata.Validate(job.Type); err != nil {
		return nightlight.JobOutcome{
			Status:       nightlight.JobStatusFailed,
			ErrorMessage: fmt.Sprintf("invalid job metadata: %v", err),
		}
	}
	runner, ok := s.runners[job.Type]
	if !ok {
		return nightlight.JobOutcome{
			Status:       nightlight.JobStatusFailed,
			ErrorMessage: fmt.Sprintf("no runner for job type %q", job.Type),
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	outcome := runner.Run(jobCtx, job)
	if !outcome.Status.IsTerminal() {
		return nightlight.JobOutcome{
			Status:       nightlight.JobStatusFailed,
			ErrorMessage: fmt.Sprintf("runner returned non-terminal status %q", outcome.Status),
		}
	}
	return outcome
}

func (s *Scheduler) publishEvent(ctx context.Context, job nightlight.Job, outcome nightlight.JobOutcome) {
	if s.publisher == nil {
		return
	}
	event := JobEvent{
		JobID:        job.ID,
		AreaID:       job.AreaID,
		Type:         job.Type,
		Status:       outcome.Status,
		ErrorMessage: outcome.ErrorMessage,
		FinishedAt:   s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.EventsTopic, event); err != nil {
		// Events are best effort; the job row is the source of truth.
		s.logger.Warn("event publish failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
