// Package processor runs etl_processing jobs: it pulls a stored monthly
// raster, computes zonal statistics over the area polygon, renders the tile
// pyramid and upserts the per-(area, month) timeseries row.
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/metrics"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
	"github.com/energyprogress/nightlight-etl/internal/raster"
)

const tileContentType = "image/png"

// Config holds the processing knobs.
type Config struct {
	// LitThreshold is the radiance at or above which a pixel counts as lit.
	LitThreshold float64
	MinZoom      int
	MaxZoom      int
	// TmpDir hosts per-job scratch directories. Empty means the OS default.
	TmpDir string
}

// Processor executes etl_processing jobs.
type Processor struct {
	areas      nightlight.AreaStore
	blobs      nightlight.BlobStore
	timeseries nightlight.TimeseriesStore
	cfg        Config
	logger     *zap.Logger
}

// New wires a processor. All collaborators are required.
func New(
	areas nightlight.AreaStore,
	blobs nightlight.BlobStore,
	timeseries nightlight.TimeseriesStore,
	cfg Config,
	logger *zap.Logger,
) (*Processor, error) {
	switch {
	case areas == nil:
		return nil, fmt.Errorf("area store is required")
	case blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case timeseries == nil:
		return nil, fmt.Errorf("timeseries store is required")
	}
	if cfg.LitThreshold <= 0 {
		cfg.LitThreshold = 1.0
	}
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = 8
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 14
	}
	if cfg.MaxZoom < cfg.MinZoom {
		return nil, fmt.Errorf("max zoom %d below min zoom %d", cfg.MaxZoom, cfg.MinZoom)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		areas:      areas,
		blobs:      blobs,
		timeseries: timeseries,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run executes one etl job. The timeseries row is written only after every
// tile upload succeeded, so a mid-flight failure leaves the previous row (if
// any) untouched and the job retryable.
func (p *Processor) Run(ctx context.Context, job nightlight.Job) nightlight.JobOutcome {
	params := *job.Metadata.ETL

	area, err := p.areas.Get(ctx, job.AreaID)
	if err != nil {
		return failedOutcome(fmt.Sprintf("load area %s: %v", job.AreaID, err))
	}

	data, err := p.blobs.Get(ctx, nightlight.BucketRasters, params.RasterKey)
	if err != nil {
		return failedOutcome(fmt.Sprintf("fetch raster %s: %v", params.RasterKey, err))
	}

	workDir, err := os.MkdirTemp(p.cfg.TmpDir, "etl-"+job.ID+"-")
	if err != nil {
		return failedOutcome(fmt.Sprintf("create scratch dir: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Warn("scratch dir cleanup failed",
				zap.String("job_id", job.ID),
				zap.String("dir", workDir),
				zap.Error(err),
			)
		}
	}()
	rasterPath := filepath.Join(workDir, "raster.tif")
	if err := os.WriteFile(rasterPath, data, 0o600); err != nil {
		return failedOutcome(fmt.Sprintf("write scratch raster: %v", err))
	}

	grid, err := raster.DecodeFile(rasterPath)
	if err != nil {
		return failedOutcome(fmt.Sprintf("decode raster %s: %v", params.RasterKey, err))
	}

	stats, err := raster.ZonalStats(grid, area.Geometry, p.cfg.LitThreshold)
	if err != nil {
		return failedOutcome(fmt.Sprintf("compute zonal statistics: %v", err))
	}

	tiles, err := raster.Pyramid(grid, p.cfg.MinZoom, p.cfg.MaxZoom)
	if err != nil {
		return failedOutcome(fmt.Sprintf("render tile pyramid: %v", err))
	}
	for _, tile := range tiles {
		key := nightlight.TileKey(job.AreaID, params.Month, tile.Z, tile.X, tile.Y)
		if _, err := p.blobs.Put(ctx, nightlight.BucketTiles, key, tileContentType, tile.PNG); err != nil {
			return failedOutcome(fmt.Sprintf("upload tile %s: %v", key, err))
		}
	}
	metrics.AddTilesUploaded(len(tiles))

	entry := nightlight.TimeseriesEntry{
		AreaID:          job.AreaID,
		Month:           params.Month,
		Stats:           stats,
		TilePathPattern: nightlight.TilePathPattern(job.AreaID, params.Month),
		RasterKey:       params.RasterKey,
		MinZoom:         p.cfg.MinZoom,
		MaxZoom:         p.cfg.MaxZoom,
		BoundingBox:     grid.Bounds,
	}
	if err := p.timeseries.Upsert(ctx, entry); err != nil {
		return failedOutcome(fmt.Sprintf("upsert timeseries row: %v", err))
	}

	p.logger.Info("raster processed",
		zap.String("job_id", job.ID),
		zap.String("area_id", job.AreaID),
		zap.String("month", params.Month.String()),
		zap.Int("tiles", len(tiles)),
		zap.Int("valid_pixels", stats.TotalPixelCount),
	)
	return nightlight.JobOutcome{Status: nightlight.JobStatusCompleted}
}

func failedOutcome(msg string) nightlight.JobOutcome {
	return nightlight.JobOutcome{
		Status:       nightlight.JobStatusFailed,
		ErrorMessage: msg,
	}
}
