// Package nightlight defines core types shared across subsystems.
package nightlight

import (
	"fmt"
	"time"
)

// JobType distinguishes the two kinds of asynchronous work.
type JobType string

// Job types persisted in the job store.
const (
	JobTypeExport JobType = "earth_engine_export"
	JobTypeETL    JobType = "etl_processing"
)

// JobStatus represents the lifecycle state of a processing job.
type JobStatus string

// Job status values persisted in the job store. Completed and failed are
// terminal; the only legal transitions are pending -> running -> {completed, failed}.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Point is a WGS84 coordinate pair (longitude, latitude).
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Polygon is a single closed ring in WGS84. The first and last vertex are
// expected to coincide; Contains tolerates an unclosed ring.
type Polygon []Point

// Bounds returns the axis-aligned bounding box of the ring.
func (p Polygon) Bounds() BoundingBox {
	if len(p) == 0 {
		return BoundingBox{}
	}
	bb := BoundingBox{MinX: p[0].Lon, MinY: p[0].Lat, MaxX: p[0].Lon, MaxY: p[0].Lat}
	for _, pt := range p[1:] {
		if pt.Lon < bb.MinX {
			bb.MinX = pt.Lon
		}
		if pt.Lon > bb.MaxX {
			bb.MaxX = pt.Lon
		}
		if pt.Lat < bb.MinY {
			bb.MinY = pt.Lat
		}
		if pt.Lat > bb.MaxY {
			bb.MaxY = pt.Lat
		}
	}
	return bb
}

// Contains reports whether the point lies inside the ring (even-odd rule).
// Points exactly on an edge may fall on either side; callers treating edge
// pixels specially should buffer the polygon upstream.
func (p Polygon) Contains(lon, lat float64) bool {
	n := len(p)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := p[i], p[j]
		if (pi.Lat > lat) != (pj.Lat > lat) {
			x := (pj.Lon-pi.Lon)*(lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// BoundingBox is an axis-aligned extent in the storage CRS (WGS84).
type BoundingBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// Area is a user-registered polygon of interest. The scheduler core only
// ever reads areas; creation and metadata edits belong to the API layer.
type Area struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Geometry  Polygon           `json:"geometry"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Month identifies one calendar month of imagery.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf truncates a timestamp to its calendar month.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Key renders the month in the object-key form used throughout storage,
// e.g. "2023_01".
func (m Month) Key() string {
	return fmt.Sprintf("%04d_%02d", m.Year, int(m.Month))
}

// String renders the month for logs and error messages, e.g. "2023-01".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// MonthsInRange lists every calendar month touched by [start, end]. A range
// of 2023-01-01..2023-03-31 covers 2023-01, 2023-02 and 2023-03.
func MonthsInRange(start, end time.Time) []Month {
	if end.Before(start) {
		return nil
	}
	var months []Month
	last := MonthOf(end)
	for m := MonthOf(start); ; m = m.Next() {
		months = append(months, m)
		if !m.Before(last) {
			break
		}
	}
	return months
}

// ExportParams is the metadata payload carried by earth_engine_export jobs.
type ExportParams struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// Source names the imagery collection, e.g. "viirs". Used in raster keys.
	Source string `json:"source,omitempty"`
	// FailedMonths records per-month export failures for diagnosis.
	FailedMonths []string `json:"failed_months,omitempty"`
	// RasterKeys lists the object keys written by a completed export.
	RasterKeys []string `json:"raster_keys,omitempty"`
}

// ETLParams is the metadata payload carried by etl_processing jobs.
type ETLParams struct {
	RasterKey   string `json:"raster_key"`
	Month       Month  `json:"month"`
	ParentJobID string `json:"parent_job_id,omitempty"`
}

// JobMetadata is a tagged union keyed by job type. Exactly the variant
// matching the job's type must be populated; this is enforced at dispatch
// time, not at creation.
type JobMetadata struct {
	Export *ExportParams `json:"export,omitempty"`
	ETL    *ETLParams    `json:"etl,omitempty"`
}

// Validate checks that the variant required by the job type is present and
// carries its required fields.
func (m JobMetadata) Validate(jt JobType) error {
	switch jt {
	case JobTypeExport:
		if m.Export == nil {
			return &ValidationError{Field: "metadata.export", Reason: "missing export parameters"}
		}
		if m.Export.StartDate.IsZero() {
			return &ValidationError{Field: "metadata.export.start_date", Reason: "start date is required"}
		}
		if !m.Export.EndDate.IsZero() && m.Export.EndDate.Before(m.Export.StartDate) {
			return &ValidationError{Field: "metadata.export.end_date", Reason: "end date precedes start date"}
		}
		return nil
	case JobTypeETL:
		if m.ETL == nil {
			return &ValidationError{Field: "metadata.etl", Reason: "missing etl parameters"}
		}
		if m.ETL.RasterKey == "" {
			return &ValidationError{Field: "metadata.etl.raster_key", Reason: "raster key is required"}
		}
		if m.ETL.Month.Year == 0 {
			return &ValidationError{Field: "metadata.etl.month", Reason: "month is required"}
		}
		return nil
	default:
		return &ValidationError{Field: "job_type", Reason: fmt.Sprintf("unknown job type %q", jt)}
	}
}

// Job represents one unit of asynchronous work tracked through the fixed
// status lifecycle. Rows are never deleted by the core.
type Job struct {
	ID           string      `json:"id"`
	AreaID       string      `json:"area_id"`
	Type         JobType     `json:"job_type"`
	Status       JobStatus   `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Metadata     JobMetadata `json:"metadata"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// JobOutcome carries the terminal state written by Finish.
type JobOutcome struct {
	Status       JobStatus
	ErrorMessage string
	// Metadata, when non-nil, replaces the job's stored metadata so output
	// references (raster keys, failed month lists) survive for inspection.
	Metadata *JobMetadata
}

// ZonalStats summarizes the brightness band over pixels inside a polygon.
type ZonalStats struct {
	MeanBrightness   float64 `json:"mean_brightness"`
	MedianBrightness float64 `json:"median_brightness"`
	SumBrightness    float64 `json:"sum_brightness"`
	LitPixelCount    int     `json:"lit_pixel_count"`
	TotalPixelCount  int     `json:"total_pixel_count"`
	LitPercentage    float64 `json:"lit_percentage"`
}

// TimeseriesEntry is the per-(area, month) result row. Reprocessing the same
// key overwrites the previous row (last write wins).
type TimeseriesEntry struct {
	AreaID          string            `json:"area_id"`
	Month           Month             `json:"month"`
	Stats           ZonalStats        `json:"stats"`
	TilePathPattern string            `json:"tile_path_pattern"`
	RasterKey       string            `json:"raster_key"`
	MinZoom         int               `json:"min_zoom"`
	MaxZoom         int               `json:"max_zoom"`
	BoundingBox     BoundingBox       `json:"bounding_box"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
