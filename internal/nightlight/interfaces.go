package nightlight

import (
	"context"
	"time"
)

// Bucket names a logical blob-store bucket. Implementations map logical
// buckets onto whatever physical names their deployment uses.
type Bucket string

// Logical buckets consumed by the pipeline.
const (
	BucketRasters Bucket = "rasters"
	BucketTiles   Bucket = "tiles"
)

// JobStore persists processing jobs and their lifecycle state.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	// ListPending returns pending jobs ordered by created_at ascending,
	// ties broken by job id.
	ListPending(ctx context.Context, limit int) ([]Job, error)
	// Claim atomically transitions pending -> running. It returns false
	// (with nil error) when the job was already claimed or transitioned by
	// a concurrent actor.
	Claim(ctx context.Context, jobID string) (bool, error)
	// Finish writes a terminal status plus error message and output metadata.
	Finish(ctx context.Context, jobID string, outcome JobOutcome) error
	// HasETLJob reports whether any etl_processing job already exists for
	// the (area, month) pair, regardless of status. Used by the export
	// client to keep re-runs idempotent.
	HasETLJob(ctx context.Context, areaID string, month Month) (bool, error)
}

// AreaStore reads registered areas. The scheduler core never mutates them.
type AreaStore interface {
	Get(ctx context.Context, areaID string) (Area, error)
}

// TimeseriesStore persists per-(area, month) brightness results.
type TimeseriesStore interface {
	// Upsert creates or overwrites the entry for (entry.AreaID, entry.Month).
	Upsert(ctx context.Context, entry TimeseriesEntry) error
	List(ctx context.Context, areaID string, from, to time.Time) ([]TimeseriesEntry, error)
}

// BlobStore gates access to the raster and tile buckets.
type BlobStore interface {
	// EnsureBuckets creates the logical buckets if missing. It is safe and
	// cheap to call repeatedly once the buckets exist.
	EnsureBuckets(ctx context.Context) error
	// Put writes an object and returns its URI. Writes with the same key
	// overwrite the previous object.
	Put(ctx context.Context, bucket Bucket, key string, contentType string, data []byte) (string, error)
	// Get reads an object or returns ErrNotFound.
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)
}

// ImageryProvider produces monthly composite rasters from the external
// imagery service.
type ImageryProvider interface {
	// MonthlyComposite returns the monthly mean of the nightlight band
	// clipped to the polygon, encoded as a raster the processor can decode.
	MonthlyComposite(ctx context.Context, geom Polygon, month Month) ([]byte, error)
}

// Publisher pushes job lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and area IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
