package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

func newStore(t *testing.T) *BlobStore {
	t.Helper()
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBuckets(context.Background()))
	return store
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{BaseDir: "   "})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "blobs")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	uri, err := store.Put(ctx, nightlight.BucketRasters, "area/rasters/viirs/2023_01.tif", "image/tiff", []byte("payload"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"), uri)

	data, err := store.Get(ctx, nightlight.BucketRasters, "area/rasters/viirs/2023_01.tif")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestGetMissingObject(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	_, err := store.Get(context.Background(), nightlight.BucketTiles, "nope.png")
	require.ErrorIs(t, err, nightlight.ErrNotFound)
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, nightlight.BucketTiles, "a/1.png", "image/png", []byte("old"))
	require.NoError(t, err)
	_, err = store.Put(ctx, nightlight.BucketTiles, "a/1.png", "image/png", []byte("new"))
	require.NoError(t, err)

	data, err := store.Get(ctx, nightlight.BucketTiles, "a/1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), data)
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, nightlight.BucketRasters, "../../etc/passwd", "text/plain", []byte("x"))
	require.Error(t, err)
	_, err = store.Get(ctx, nightlight.BucketRasters, "../../../secret")
	require.Error(t, err)
	_, err = store.Put(ctx, nightlight.BucketRasters, "", "text/plain", []byte("x"))
	require.Error(t, err)
}

func TestEnsureBucketsIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	require.NoError(t, store.EnsureBuckets(context.Background()))
	require.NoError(t, store.EnsureBuckets(context.Background()))
}
