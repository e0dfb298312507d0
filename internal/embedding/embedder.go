// Package embedding turns text into vectors through a pluggable provider.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/indexd/internal/config"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when an operation needs an embedder and none
// is configured.
var ErrNotConfigured = errors.New("embedder not configured")

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dim is the declared width of every returned vector.
	Dim() int
	// ID names the provider, e.g. "ollama".
	ID() string
	// Version identifies the model revision. Implementations may cache it.
	Version(ctx context.Context) (string, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedder returned no embeddings")
	}
	return vecs[0], nil
}

// Close releases e if it holds resources.
func Close(e Embedder) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FactoryOption configures New.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger *zap.Logger
	store  PersistentCache
}

// WithFactoryLogger sets the logger handed to providers.
func WithFactoryLogger(l *zap.Logger) FactoryOption {
	return func(o *factoryOptions) { o.logger = l }
}

// WithPersistentCache adds a second-level cache behind the in-memory LRU.
func WithPersistentCache(c PersistentCache) FactoryOption {
	return func(o *factoryOptions) { o.store = c }
}

// New builds the embedder selected by cfg.Provider. An empty provider means
// no embedder is configured and returns (nil, nil).
func New(cfg config.EmbeddingConfig, opts ...FactoryOption) (Embedder, error) {
	o := factoryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var base Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case "ollama":
		base = NewOllamaEmbedder(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Dim:         cfg.Dimensions,
			Timeout:     cfg.Timeout,
			MinInterval: cfg.MinInterval(),
			NoProxy:     cfg.NoProxy,
		}, WithOllamaLogger(o.logger))
	case "hash", "mock":
		base = NewHashEmbedder(cfg.Dimensions)
	case "onnx":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize <= 0 && o.store == nil {
		return base, nil
	}
	return NewCachedEmbedder(base, cfg.CacheSize, o.store, o.logger)
}
