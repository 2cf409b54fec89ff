// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	ProjectID     string
	RastersBucket string
	TilesBucket   string
}

// BlobStore maps the logical rasters/tiles buckets onto two GCS buckets.
// Bucket creation is deferred to EnsureBuckets so the service can start
// while storage is unreachable.
type BlobStore struct {
	client  *storage.Client
	project string
	buckets map[nightlight.Bucket]string

	mu    sync.Mutex
	ready bool
}

// New creates a GCS-backed blob store. No network calls are made here;
// connectivity is verified lazily via EnsureBuckets.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.RastersBucket == "" || cfg.TilesBucket == "" {
		return nil, fmt.Errorf("rasters and tiles bucket names are required")
	}
	return &BlobStore{
		client:  client,
		project: cfg.ProjectID,
		buckets: map[nightlight.Bucket]string{
			nightlight.BucketRasters: cfg.RastersBucket,
			nightlight.BucketTiles:   cfg.TilesBucket,
		},
	}, nil
}

// EnsureBuckets creates both buckets if missing. Once a call has succeeded
// subsequent calls return immediately.
func (s *BlobStore) EnsureBuckets(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	for logical, name := range s.buckets {
		bkt := s.client.Bucket(name)
		_, err := bkt.Attrs(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrBucketNotExist) {
			return &nightlight.ExternalServiceError{
				Service: "blob store",
				Err:     fmt.Errorf("stat bucket %s (%s): %w", name, logical, err),
			}
		}
		if err := bkt.Create(ctx, s.project, nil); err != nil {
			return &nightlight.ExternalServiceError{
				Service: "blob store",
				Err:     fmt.Errorf("create bucket %s (%s): %w", name, logical, err),
			}
		}
	}
	s.ready = true
	return nil
}

// Put uploads data to the bucket and returns a gs:// URI. Same-key writes
// overwrite the previous object.
func (s *BlobStore) Put(ctx context.Context, bucket nightlight.Bucket, key, contentType string, data []byte) (string, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(name).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", name, key), nil
}

// Get downloads an object, mapping missing objects to ErrNotFound.
func (s *BlobStore) Get(ctx context.Context, bucket nightlight.Bucket, key string) ([]byte, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(name).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s/%s: %w", bucket, key, nightlight.ErrNotFound)
		}
		return nil, fmt.Errorf("open object reader: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *BlobStore) bucketName(bucket nightlight.Bucket) (string, error) {
	name, ok := s.buckets[bucket]
	if !ok {
		return "", fmt.Errorf("unknown logical bucket %q", bucket)
	}
	return name, nil
}
