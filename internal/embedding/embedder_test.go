package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/indexd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoProvider(t *testing.T) {
	e, err := New(config.EmbeddingConfig{})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestNew_Unknown(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "magic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown embedding provider "magic"`)
}

func TestNew_HashWithCache(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: " Hash ", Dimensions: 8, CacheSize: 4})
	require.NoError(t, err)
	require.IsType(t, &CachedEmbedder{}, e)
	assert.Equal(t, "hash", e.ID())
	assert.Equal(t, 8, e.Dim())

	v, err := EmbedOne(context.Background(), e, "hello")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.NoError(t, Close(e))
}

func TestNew_HashUncached(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "mock", Dimensions: 4})
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)
}

func TestNew_Ollama(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "ollama", Model: "m", Dimensions: 3})
	require.NoError(t, err)
	o, ok := e.(*OllamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, defaultOllamaURL, o.baseURL)
}
