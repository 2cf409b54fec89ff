package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// TimeseriesStore persists per-(area, month) brightness results. Months are
// stored as the first day of the month so range queries stay plain date
// comparisons.
type TimeseriesStore struct {
	db querier
}

// NewTimeseriesStore wraps a pool (or pgxmock pool in tests).
func NewTimeseriesStore(db querier) (*TimeseriesStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TimeseriesStore{db: db}, nil
}

// Upsert creates or overwrites the row for (entry.AreaID, entry.Month).
// Last write wins on conflict.
func (s *TimeseriesStore) Upsert(ctx context.Context, entry nightlight.TimeseriesEntry) error {
	bbox, err := json.Marshal(entry.BoundingBox)
	if err != nil {
		return fmt.Errorf("marshal bounding box: %w", err)
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}
	query := `
		INSERT INTO area_timeseries (
			area_id, month, mean_brightness, median_brightness, sum_brightness,
			lit_pixel_count, total_pixel_count, lit_percentage,
			tile_path_pattern, raster_key, min_zoom, max_zoom, bounding_box, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (area_id, month) DO UPDATE SET
			mean_brightness = EXCLUDED.mean_brightness,
			median_brightness = EXCLUDED.median_brightness,
			sum_brightness = EXCLUDED.sum_brightness,
			lit_pixel_count = EXCLUDED.lit_pixel_count,
			total_pixel_count = EXCLUDED.total_pixel_count,
			lit_percentage = EXCLUDED.lit_percentage,
			tile_path_pattern = EXCLUDED.tile_path_pattern,
			raster_key = EXCLUDED.raster_key,
			min_zoom = EXCLUDED.min_zoom,
			max_zoom = EXCLUDED.max_zoom,
			bounding_box = EXCLUDED.bounding_box,
			metadata = EXCLUDED.metadata;
	`
	_, err = s.db.Exec(ctx, query,
		entry.AreaID, entry.Month.Start(),
		entry.Stats.MeanBrightness, entry.Stats.MedianBrightness, entry.Stats.SumBrightness,
		entry.Stats.LitPixelCount, entry.Stats.TotalPixelCount, entry.Stats.LitPercentage,
		entry.TilePathPattern, entry.RasterKey, entry.MinZoom, entry.MaxZoom, bbox, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert timeseries entry: %w", err)
	}
	return nil
}

// List returns entries for an area whose month falls inside [from, to],
// oldest first. Zero bounds are open-ended.
func (s *TimeseriesStore) List(ctx context.Context, areaID string, from, to time.Time) ([]nightlight.TimeseriesEntry, error) {
	query := `
		SELECT area_id, month, mean_brightness, median_brightness, sum_brightness,
		       lit_pixel_count, total_pixel_count, lit_percentage,
		       tile_path_pattern, raster_key, min_zoom, max_zoom, bounding_box, metadata
		FROM area_timeseries
		WHERE area_id = $1
		  AND ($2::timestamptz IS NULL OR month >= $2)
		  AND ($3::timestamptz IS NULL OR month <= $3)
		ORDER BY month ASC;
	`
	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}
	rows, err := s.db.Query(ctx, query, areaID, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("list timeseries: %w", err)
	}
	defer rows.Close()

	var entries []nightlight.TimeseriesEntry
	for rows.Next() {
		entry, err := scanTimeseries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeseries row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeseries rows: %w", err)
	}
	return entries, nil
}

func scanTimeseries(row pgx.Row) (nightlight.TimeseriesEntry, error) {
	var (
		entry nightlight.TimeseriesEntry
		month time.Time
		bbox  []byte
		meta  []byte
	)
	if err := row.Scan(
		&entry.AreaID, &month,
		&entry.Stats.MeanBrightness, &entry.Stats.MedianBrightness, &entry.Stats.SumBrightness,
		&entry.Stats.LitPixelCount, &entry.Stats.TotalPixelCount, &entry.Stats.LitPercentage,
		&entry.TilePathPattern, &entry.RasterKey, &entry.MinZoom, &entry.MaxZoom, &bbox, &meta,
	); err != nil {
		return nightlight.TimeseriesEntry{}, err
	}
	entry.Month = nightlight.MonthOf(month)
	if len(bbox) > 0 {
		if err := json.Unmarshal(bbox, &entry.BoundingBox); err != nil {
			return nightlight.TimeseriesEntry{}, fmt.Errorf("unmarshal bounding box: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nightlight.TimeseriesEntry{}, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return entry, nil
}
