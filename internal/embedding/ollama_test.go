package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllama(t *testing.T, handler http.HandlerFunc, dim int) *OllamaEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL + "/", Model: "nomic-embed-text", Dim: dim})
}

func TestOllamaEmbed(t *testing.T) {
	e := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		_, _ = w.Write([]byte(`{"embeddings":[[1,0,0],[0,1,0]]}`))
	}, 3)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)
	assert.Equal(t, "ollama", e.ID())
	assert.Equal(t, 3, e.Dim())
}

func TestOllamaEmbed_SingleEmbeddingField(t *testing.T) {
	e := newOllama(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.5]}`))
	}, 2)

	vecs, err := e.Embed(context.Background(), []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}}, vecs)
}

func TestOllamaEmbed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: "status 500"},
		{name: "wrong width", status: http.StatusOK, body: `{"embeddings":[[1,2]]}`, wantErr: "unexpected embedding dimensionality: expected 3, got 2"},
		{name: "count mismatch", status: http.StatusOK, body: `{"embeddings":[[1,2,3],[1,2,3]]}`, wantErr: "2 embeddings for 1 inputs"},
		{name: "no embeddings", status: http.StatusOK, body: `{}`, wantErr: "did not contain embeddings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newOllama(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, 3)
			_, err := e.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOllamaEmbed_EmptyBatch(t *testing.T) {
	var hits atomic.Int32
	e := newOllama(t, func(http.ResponseWriter, *http.Request) { hits.Add(1) }, 3)
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, hits.Load())
}

func TestOllamaVersion_ShowDigest(t *testing.T) {
	var shows atomic.Int32
	e := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/show", r.URL.Path)
		shows.Add(1)
		_, _ = w.Write([]byte(`{"digest":"sha256:abc"}`))
	}, 3)

	for i := 0; i < 2; i++ {
		v, err := e.Version(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "sha256:abc", v)
	}
	assert.Equal(t, int32(1), shows.Load())
}

func TestOllamaVersion_TagsFallback(t *testing.T) {
	tests := []struct {
		name string
		tags string
		want string
	}{
		{
			name: "exact name",
			tags: `{"models":[{"name":"nomic-embed-text:latest","digest":"latest"},{"name":"nomic-embed-text","digest":"exact"}]}`,
			want: "exact",
		},
		{
			name: "latest suffix",
			tags: `{"models":[{"name":"other","digest":"x"},{"name":"nomic-embed-text:latest","digest":"sha256:def"}]}`,
			want: "sha256:def",
		},
		{
			name: "unknown",
			tags: `{"models":[{"name":"other","digest":"x"}]}`,
			want: "nomic-embed-text:unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/show":
					w.WriteHeader(http.StatusNotFound)
				case "/api/tags":
					_, _ = w.Write([]byte(tt.tags))
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			}, 3)
			v, err := e.Version(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestOllamaVersion_UnknownNotCached(t *testing.T) {
	var tags atomic.Int32
	e := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			if tags.Add(1) == 2 {
				_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text","digest":"later"}]}`))
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 3)

	v, err := e.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:unknown", v)

	v, err = e.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "later", v)
}
