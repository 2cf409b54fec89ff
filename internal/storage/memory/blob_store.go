// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// BlobStore stores objects in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	ready   bool
	objects map[string][]byte

	// EnsureErr, when set, makes EnsureBuckets fail until cleared. Tests
	// use it to simulate a blob store outage at startup.
	EnsureErr error
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// EnsureBuckets marks the store ready, or fails while EnsureErr is set.
func (s *BlobStore) EnsureBuckets(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EnsureErr != nil {
		return s.EnsureErr
	}
	s.ready = true
	return nil
}

// SetEnsureErr toggles the simulated outage.
func (s *BlobStore) SetEnsureErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnsureErr = err
}

// Put persists the object and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, bucket nightlight.Bucket, key, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return "", fmt.Errorf("blob store buckets not initialized")
	}
	s.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s/%s", bucket, key), nil
}

// Get returns the stored object or ErrNotFound.
func (s *BlobStore) Get(_ context.Context, bucket nightlight.Bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", bucket, key, nightlight.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Len reports the number of stored objects (test helper).
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Keys lists stored object keys for a bucket (test helper).
func (s *BlobStore) Keys(bucket nightlight.Bucket) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := string(bucket) + "/"
	var keys []string
	for k := range s.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys
}

func objectKey(bucket nightlight.Bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}
