package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteEmbeddingCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	cache, err := NewSQLiteEmbeddingCache(path)
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "k1", []float32{0.25, -1.5, 3}))
	got, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, -1.5, 3}, got)

	require.NoError(t, cache.Put(ctx, "k1", []float32{1, 2}))
	got, _, err = cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)

	require.NoError(t, cache.Put(ctx, "k2", []float32{1}))
	n, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteEmbeddingCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	cache, err := NewSQLiteEmbeddingCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, "k", []float32{0.5}))
	require.NoError(t, cache.Close())

	cache, err = NewSQLiteEmbeddingCache(path)
	require.NoError(t, err)
	defer cache.Close()
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5}, got)
}

func TestDecodeVectorRejectsShortBlob(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3}, 1)
	assert.Error(t, err)
}
