package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(16)
	vecs, err := e.Embed(context.Background(), []string{"alpha", "beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
	for _, v := range vecs {
		require.Len(t, v, 16)
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}

	assert.Equal(t, 16, e.Dim())
	assert.Equal(t, "hash", e.ID())
	version, err := e.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hash-v1-16", version)
}

func TestHashEmbedder_DefaultDim(t *testing.T) {
	assert.Equal(t, 384, NewHashEmbedder(0).Dim())
}

func TestHashEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(4).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewHashEmbedder(4), "x")
	require.NoError(t, err)
	assert.Len(t, v, 4)
}

func BenchmarkHashEmbedderEmbed(b *testing.B) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	texts := []string{"benchmark query text for embedding"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, texts)
	}
}
