package embedding

import (
	"context"
	"fmt"
	"math"
)

// HashEmbedder is a deterministic, offline embedder. Each vector is derived
// from a hash of the text, so equal texts always embed identically. It is
// meant for development and tests, not for semantic quality.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hash embedder producing vectors of width dim
// (384 when dim <= 0).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Embed returns a unit-length vector per text.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	h := HashString(text)
	emb := make([]float32, e.dim)
	var sum float64
	for i := range emb {
		v := math.Sin(float64(h*(i+1)))*0.1 + 0.01
		emb[i] = float32(v)
		sum += v * v
	}
	if sum > 0 {
		inv := 1 / math.Sqrt(sum)
		for i := range emb {
			emb[i] = float32(float64(emb[i]) * inv)
		}
	}
	return emb
}

// Dim returns the vector width.
func (e *HashEmbedder) Dim() int { return e.dim }

// ID returns "hash".
func (e *HashEmbedder) ID() string { return "hash" }

// Version is fixed per width.
func (e *HashEmbedder) Version(context.Context) (string, error) {
	return fmt.Sprintf("hash-v1-%d", e.dim), nil
}
