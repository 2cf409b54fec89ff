// Package export runs earth_engine_export jobs: it walks the requested month
// range, downloads one monthly composite per month, stores it in the rasters
// bucket and spawns an etl_processing job for each stored raster.
package export

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/metrics"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// DefaultSource names the imagery collection used when a job does not pick one.
const DefaultSource = "viirs"

const rasterContentType = "image/tiff"

// Client executes export jobs.
type Client struct {
	areas    nightlight.AreaStore
	jobs     nightlight.JobStore
	blobs    nightlight.BlobStore
	provider nightlight.ImageryProvider
	clock    nightlight.Clock
	ids      nightlight.IDGenerator
	logger   *zap.Logger
}

// New wires an export client. All collaborators are required.
func New(
	areas nightlight.AreaStore,
	jobs nightlight.JobStore,
	blobs nightlight.BlobStore,
	provider nightlight.ImageryProvider,
	clock nightlight.Clock,
	ids nightlight.IDGenerator,
	logger *zap.Logger,
) (*Client, error) {
	switch {
	case areas == nil:
		return nil, fmt.Errorf("area store is required")
	case jobs == nil:
		return nil, fmt.Errorf("job store is required")
	case blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case provider == nil:
		return nil, fmt.Errorf("imagery provider is required")
	case clock == nil:
		return nil, fmt.Errorf("clock is required")
	case ids == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		areas:    areas,
		jobs:     jobs,
		blobs:    blobs,
		provider: provider,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}, nil
}

// Run executes one export job. Each month in the range is exported
// independently: a failed month is recorded and the remaining months still
// run. The returned outcome is failed when any month failed, with the
// per-month failures preserved in the job metadata.
//
// Re-running an export over a range that already has etl jobs is a no-op for
// the covered months, so retries never duplicate downstream work.
func (c *Client) Run(ctx context.Context, job nightlight.Job) nightlight.JobOutcome {
	params := *job.Metadata.Export
	if params.Source == "" {
		params.Source = DefaultSource
	}
	endDate := params.EndDate
	if endDate.IsZero() {
		endDate = c.clock.Now()
	}

	area, err := c.areas.Get(ctx, job.AreaID)
	if err != nil {
		return failedOutcome(&params, fmt.Sprintf("load area %s: %v", job.AreaID, err))
	}
	if len(area.Geometry) < 3 {
		return failedOutcome(&params, fmt.Sprintf("area %s has a degenerate polygon", job.AreaID))
	}

	months := nightlight.MonthsInRange(params.StartDate, endDate)
	if len(months) == 0 {
		return failedOutcome(&params, "date range covers no months")
	}

	params.FailedMonths = nil
	params.RasterKeys = nil
	for _, month := range months {
		key, err := c.exportMonth(ctx, job, area, params.Source, month)
		if err != nil {
			c.logger.Warn("month export failed",
				zap.String("job_id", job.ID),
				zap.String("area_id", job.AreaID),
				zap.String("month", month.String()),
				zap.Error(err),
			)
			metrics.ObserveRasterExport("failure")
			params.FailedMonths = append(params.FailedMonths, month.String())
			continue
		}
		if key != "" {
			metrics.ObserveRasterExport("success")
			params.RasterKeys = append(params.RasterKeys, key)
		}
	}

	if len(params.FailedMonths) > 0 {
		msg := fmt.Sprintf("export failed for months: %s", strings.Join(params.FailedMonths, ", "))
		return failedOutcome(&params, msg)
	}
	return nightlight.JobOutcome{
		Status:   nightlight.JobStatusCompleted,
		Metadata: &nightlight.JobMetadata{Export: &params},
	}
}

// exportMonth handles one month end to end. It returns the raster key it
// wrote, or "" when the month was skipped because an etl job already covers it.
func (c *Client) exportMonth(ctx context.Context, job nightlight.Job, area nightlight.Area, source string, month nightlight.Month) (string, error) {
	exists, err := c.jobs.HasETLJob(ctx, job.AreaID, month)
	if err != nil {
		return "", fmt.Errorf("check existing etl job: %w", err)
	}
	if exists {
		c.logger.Debug("month already has an etl job, skipping",
			zap.String("area_id", job.AreaID),
			zap.String("month", month.String()),
		)
		return "", nil
	}

	data, err := c.provider.MonthlyComposite(ctx, area.Geometry, month)
	if err != nil {
		return "", fmt.Errorf("download composite: %w", err)
	}

	key := nightlight.RasterKey(job.AreaID, source, month)
	if _, err := c.blobs.Put(ctx, nightlight.BucketRasters, key, rasterContentType, data); err != nil {
		return "", fmt.Errorf("store raster: %w", err)
	}

	etlID, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate etl job id: %w", err)
	}
	now := c.clock.Now()
	etlJob := nightlight.Job{
		ID:     etlID,
		AreaID: job.AreaID,
		Type:   nightlight.JobTypeETL,
		Status: nightlight.JobStatusPending,
		Metadata: nightlight.JobMetadata{
			ETL: &nightlight.ETLParams{
				RasterKey:   key,
				Month:       month,
				ParentJobID: job.ID,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobs.Create(ctx, etlJob); err != nil {
		return "", fmt.Errorf("create etl job: %w", err)
	}
	c.logger.Info("month exported",
		zap.String("job_id", job.ID),
		zap.String("etl_job_id", etlID),
		zap.String("raster_key", key),
	)
	return key, nil
}

func failedOutcome(params *nightlight.ExportParams, msg string) nightlight.JobOutcome {
	return nightlight.JobOutcome{
		Status:       nightlight.JobStatusFailed,
		ErrorMessage: msg,
		Metadata:     &nightlight.JobMetadata{Export: params},
	}
}
