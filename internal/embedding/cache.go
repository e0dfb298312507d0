package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 1024

// PersistentCache is a second-level embedding cache that survives restarts.
type PersistentCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

// CachedEmbedder wraps an Embedder with an in-memory LRU and an optional
// persistent cache. Entries are keyed by provider, model version and text,
// so a model upgrade never serves stale vectors.
type CachedEmbedder struct {
	inner  Embedder
	lru    *lru.Cache[string, []float32]
	store  PersistentCache
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner. size <= 0 selects a default capacity;
// store may be nil.
func NewCachedEmbedder(inner Embedder, size int, store PersistentCache, logger *zap.Logger) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, errors.New("cached embedder needs an inner embedder")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, lru: c, store: store, logger: logger}, nil
}

// Embed serves what it can from cache and sends the remaining texts to the
// inner embedder in one batch, preserving input order.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	version, err := c.inner.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedder version: %w", err)
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = c.key(version, text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := c.inner.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d inputs", len(vecs), len(batch))
	}
	for j, i := range missing {
		out[i] = vecs[j]
		c.lru.Add(keys[i], vecs[j])
		if c.store != nil {
			if err := c.store.Put(ctx, keys[i], vecs[j]); err != nil {
				c.logger.Warn("failed to persist embedding", zap.Error(err))
			}
		}
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	if vec, ok := c.lru.Get(key); ok {
		return vec, true
	}
	if c.store == nil {
		return nil, false
	}
	vec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || len(vec) != c.inner.Dim() {
		return nil, false
	}
	c.lru.Add(key, vec)
	return vec, true
}

func (c *CachedEmbedder) key(version, text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.ID()))
	h.Write([]byte{0})
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of in-memory entries.
func (c *CachedEmbedder) Len() int { return c.lru.Len() }

func (c *CachedEmbedder) Dim() int { return c.inner.Dim() }

func (c *CachedEmbedder) ID() string { return c.inner.ID() }

func (c *CachedEmbedder) Version(ctx context.Context) (string, error) {
	return c.inner.Version(ctx)
}

// Close closes the inner embedder. The persistent cache is owned by the caller.
func (c *CachedEmbedder) Close() error {
	c.lru.Purge()
	return Close(c.inner)
}
