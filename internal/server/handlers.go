package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hyperjump/indexd/internal/embedding"
	"github.com/hyperjump/indexd/internal/engine"
	"github.com/hyperjump/indexd/internal/models"
	"github.com/hyperjump/indexd/internal/storage"
	"github.com/hyperjump/indexd/internal/vector"
	"go.uber.org/zap"
)

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertRequest
	if rerr := s.decodeJSON(w, r, &req); rerr != nil {
		s.fail(w, rerr)
		return
	}
	s.logger.Info("received upsert",
		zap.String("doc_id", req.DocID),
		zap.String("namespace", req.Namespace),
		zap.Int("chunks", len(req.Chunks)))

	expected, hasExpected := s.engine.Dims()
	chunks := make([]engine.ChunkInput, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		meta, ok := objectOrEmpty(c.Meta)
		if !ok {
			s.fail(w, badRequest("chunk '%s' meta must be an object", c.ID))
			return
		}
		raw, ok := meta["embedding"]
		if !ok {
			s.fail(w, badRequest("chunk '%s' meta must contain an 'embedding' array", c.ID))
			return
		}
		delete(meta, "embedding")
		vec, err := models.ParseEmbedding(raw)
		if err != nil {
			s.fail(w, badRequest("chunk '%s': %v", c.ID, err))
			return
		}
		if hasExpected && len(vec) != expected {
			s.fail(w, badRequest("chunk '%s' embedding dimensionality mismatch: expected %d, got %d", c.ID, expected, len(vec)))
			return
		}
		expected, hasExpected = len(vec), true
		chunks = append(chunks, engine.ChunkInput{ChunkID: c.ID, Vector: vec, Meta: meta})
	}

	if err := s.engine.ReplaceDocument(r.Context(), req.Namespace, req.DocID, chunks); err != nil {
		var mismatch *vector.DimensionMismatchError
		switch {
		case errors.As(err, &mismatch):
			s.fail(w, badRequest("chunk embedding dimensionality mismatch: expected %d, got %d", mismatch.Expected, mismatch.Actual))
		case isContextErr(err):
			s.fail(w, unavailable("upsert canceled: %v", err))
		default:
			s.fail(w, badRequest("%v", err))
		}
		return
	}
	n := len(req.Chunks)
	s.respondJSON(w, http.StatusOK, models.AcceptedResponse{Status: "accepted", Chunks: &n})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteRequest
	if rerr := s.decodeJSON(w, r, &req); rerr != nil {
		s.fail(w, rerr)
		return
	}
	s.logger.Info("received delete", zap.String("doc_id", req.DocID), zap.String("namespace", req.Namespace))

	if _, err := s.engine.DeleteDocument(r.Context(), req.Namespace, req.DocID); err != nil {
		s.fail(w, unavailable("delete canceled: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, models.AcceptedResponse{Status: "accepted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if rerr := s.decodeJSON(w, r, &req); rerr != nil {
		s.fail(w, rerr)
		return
	}
	k := s.config.Search.DefaultK
	if req.K != nil {
		k = *req.K
	}
	if k == 0 {
		s.fail(w, badRequest("k must be greater than 0"))
		return
	}
	s.logger.Debug("received search",
		zap.String("query", req.Query.Text),
		zap.Int("k", k),
		zap.String("namespace", req.Namespace),
		zap.Bool("filters", req.Filters != nil))

	query, generated, rerr := s.resolveQueryVector(r.Context(), &req)
	if rerr != nil {
		s.fail(w, rerr)
		return
	}

	matches, err := s.engine.Search(r.Context(), req.Namespace, query, k, req.Filters)
	if err != nil {
		var mismatch *vector.DimensionMismatchError
		if errors.As(err, &mismatch) {
			rerr := badRequest("embedding dimensionality mismatch: expected %d, got %d", mismatch.Expected, mismatch.Actual)
			if generated {
				rerr.status = http.StatusServiceUnavailable
			}
			s.fail(w, rerr)
			return
		}
		s.fail(w, unavailable("search canceled: %v", err))
		return
	}

	resp := models.SearchResponse{Results: make([]models.SearchHit, 0, len(matches))}
	for _, m := range matches {
		snippet, _ := m.Meta["snippet"].(string)
		resp.Results = append(resp.Results, models.SearchHit{
			DocID:     m.DocID,
			Namespace: req.Namespace,
			ChunkID:   m.ChunkID,
			Score:     m.Score,
			Snippet:   snippet,
			Rationale: []string{},
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// resolveQueryVector picks the query vector from query.meta.embedding, the
// top-level embedding, the legacy meta.embedding, or the embedder, in that
// order. generated reports whether the embedder produced it.
func (s *Server) resolveQueryVector(ctx context.Context, req *models.SearchRequest) (vec []float32, generated bool, rerr *requestError) {
	if req.Query.Meta != nil {
		meta, ok := req.Query.Meta.(map[string]any)
		if !ok {
			return nil, false, badRequest("query meta must be an object")
		}
		if raw, ok := meta["embedding"]; ok {
			vec, err := models.ParseEmbedding(raw)
			if err != nil {
				return nil, false, badRequest("%v", err)
			}
			return vec, false, nil
		}
	}
	if req.Embedding != nil {
		return req.Embedding, false, nil
	}
	if req.Meta != nil {
		meta, ok := req.Meta.(map[string]any)
		if !ok {
			return nil, false, badRequest("legacy meta must be an object")
		}
		raw, ok := meta["embedding"]
		if !ok {
			return nil, false, badRequest("embedding is required (provide query.meta.embedding, top-level embedding, or legacy meta.embedding)")
		}
		s.logger.Warn("meta.embedding is deprecated, use query.meta.embedding or embedding")
		vec, err := models.ParseEmbedding(raw)
		if err != nil {
			return nil, false, badRequest("%v", err)
		}
		return vec, false, nil
	}
	if s.embedder == nil {
		return nil, false, badRequest("embedding is required (provide query.meta.embedding, top-level embedding, legacy meta.embedding, or configure INDEXD_EMBEDDER_PROVIDER)")
	}

	if dims, ok := s.engine.Dims(); ok && dims != s.embedder.Dim() {
		return nil, true, unavailable("embedder dimension mismatch: expected %d, got %d", dims, s.embedder.Dim())
	}
	vecs, err := s.embed(ctx, req.Query.Text)
	if err != nil {
		return nil, true, unavailable("failed to generate embedding: %v", err)
	}
	if len(vecs) == 0 {
		return nil, true, unavailable("failed to generate embedding: embedder returned no embeddings")
	}
	return vecs[0], true, nil
}

func (s *Server) handleEmbedText(w http.ResponseWriter, r *http.Request) {
	var req models.EmbedTextRequest
	if rerr := s.decodeJSON(w, r, &req); rerr != nil {
		s.fail(w, rerr)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.fail(w, badRequest("text cannot be empty"))
		return
	}
	if strings.TrimSpace(req.SourceRef) == "" {
		s.fail(w, badRequest("source_ref cannot be empty"))
		return
	}
	if s.embedder == nil {
		s.fail(w, unavailable("%v. Set INDEXD_EMBEDDER_PROVIDER", embedding.ErrNotConfigured))
		return
	}

	vecs, err := s.embed(r.Context(), req.Text)
	if err != nil {
		s.fail(w, unavailable("failed to generate embedding: %v", err))
		return
	}
	if len(vecs) == 0 {
		s.fail(w, unavailable("embedder returned no embeddings"))
		return
	}
	vec := vecs[len(vecs)-1]
	dim := s.embedder.Dim()
	if len(vec) != dim {
		s.fail(w, unavailable("embedder returned vector of dimension %d but specified dimension is %d", len(vec), dim))
		return
	}

	model := s.embedder.ID()
	version, err := s.embedder.Version(r.Context())
	if err != nil || version == "" {
		version = model
	}
	resp := models.EmbedTextResponse{
		EmbeddingID:          "embed-" + uuid.NewString(),
		Text:                 req.Text,
		Embedding:            vec,
		EmbeddingModel:       model,
		EmbeddingDim:         dim,
		ModelRevision:        version + "-" + strconv.Itoa(dim),
		GeneratedAt:          time.Now().UTC().Format(time.RFC3339),
		Namespace:            req.Namespace,
		SourceRef:            req.SourceRef,
		Producer:             Producer,
		DeterminismTolerance: 1e-6,
	}
	s.logger.Info("generated embedding",
		zap.String("namespace", string(resp.Namespace)),
		zap.String("source_ref", resp.SourceRef),
		zap.String("model", resp.EmbeddingModel),
		zap.Int("dim", resp.EmbeddingDim))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) embed(ctx context.Context, text string) ([][]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if s.metrics != nil {
		s.metrics.ObserveEmbed(err)
	}
	return vecs, err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Stats()
	resp := models.StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Chunks:        st.Chunks,
		Namespaces:    st.Namespaces,
		SnapshotPath:  s.config.Storage.SnapshotPath,
	}
	if st.HasDims {
		dims := st.Dims
		resp.Dims = &dims
	}
	if s.embedder != nil {
		info := &models.EmbedderInfo{Provider: s.embedder.ID(), Dim: s.embedder.Dim()}
		if v, err := s.embedder.Version(r.Context()); err == nil {
			info.Version = v
		}
		resp.Embedder = info
	}
	if s.config.Storage.SnapshotPath != "" {
		files := storage.DataFiles(s.config.Storage.SnapshotPath, s.config.Storage.EmbeddingCachePath)
		if n, err := storage.DiskUsageBytes(files...); err == nil {
			resp.DiskUsageBytes = &n
		} else {
			s.logger.Debug("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, rerr *requestError) {
	if rerr.status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", rerr.status), zap.String("error", rerr.message))
	}
	s.respondError(w, rerr.status, rerr.message)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Error: message})
}

// objectOrEmpty returns v as an object. nil means an empty object.
func objectOrEmpty(v any) (map[string]any, bool) {
	if v == nil {
		return map[string]any{}, true
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
