package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

func TestBlobStorePutRequiresEnsure(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	_, err := store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("x"))
	require.Error(t, err)

	require.NoError(t, store.EnsureBuckets(ctx))
	uri, err := store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "memory://rasters/k", uri)
}

func TestBlobStoreGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	require.NoError(t, store.EnsureBuckets(ctx))

	_, err := store.Put(ctx, nightlight.BucketTiles, "a/1.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	data, err := store.Get(ctx, nightlight.BucketTiles, "a/1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)

	// Same key in the other bucket is a different object.
	_, err = store.Get(ctx, nightlight.BucketRasters, "a/1.png")
	require.ErrorIs(t, err, nightlight.ErrNotFound)
}

func TestBlobStoreOverwriteLastWriteWins(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	require.NoError(t, store.EnsureBuckets(ctx))

	_, err := store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("first"))
	require.NoError(t, err)
	_, err = store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("second"))
	require.NoError(t, err)

	data, err := store.Get(ctx, nightlight.BucketRasters, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreOutageThenRecovery(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	outage := errors.New("bucket service down")
	store.SetEnsureErr(outage)

	require.ErrorIs(t, store.EnsureBuckets(ctx), outage)
	_, err := store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("x"))
	require.Error(t, err)

	store.SetEnsureErr(nil)
	require.NoError(t, store.EnsureBuckets(ctx))
	_, err = store.Put(ctx, nightlight.BucketRasters, "k", "image/tiff", []byte("x"))
	require.NoError(t, err)
}
