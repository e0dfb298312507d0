package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultOllamaURL     = "http://127.0.0.1:11434"
	defaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Dim     int
	Timeout time.Duration
	// MinInterval is the minimum gap between embedding requests. Zero disables pacing.
	MinInterval time.Duration
	// NoProxy ignores HTTP(S)_PROXY from the environment.
	NoProxy bool
}

// OllamaEmbedder calls the Ollama embeddings API.
type OllamaEmbedder struct {
	client  *http.Client
	baseURL string
	model   string
	dim     int
	limiter *rate.Limiter
	logger  *zap.Logger

	versionMu sync.Mutex
	version   string
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithOllamaLogger sets a logger for request diagnostics.
func WithOllamaLogger(l *zap.Logger) OllamaOption {
	return func(e *OllamaEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// NewOllamaEmbedder returns an embedder for cfg.
func NewOllamaEmbedder(cfg OllamaConfig, opts ...OllamaOption) *OllamaEmbedder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.NoProxy {
		transport.Proxy = nil
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	e := &OllamaEmbedder{
		client:  &http.Client{Timeout: timeout, Transport: transport},
		baseURL: baseURL,
		model:   cfg.Model,
		dim:     cfg.Dim,
		limiter: rate.NewLimiter(limit, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embedding  []float32   `json:"embedding"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (r *ollamaEmbedResponse) vectors() ([][]float32, error) {
	if r.Embeddings != nil {
		return r.Embeddings, nil
	}
	if r.Embedding != nil {
		return [][]float32{r.Embedding}, nil
	}
	return nil, fmt.Errorf("ollama response did not contain embeddings")
}

// Embed returns one embedding per text. An empty batch makes no request.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body ollamaEmbedResponse
	status, err := e.do(ctx, http.MethodPost, "/api/embeddings", ollamaEmbedRequest{Model: e.model, Input: texts}, &body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("ollama responded with status %d", status)
	}
	vecs, err := body.vectors()
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != e.dim {
			return nil, fmt.Errorf("unexpected embedding dimensionality: expected %d, got %d", e.dim, len(v))
		}
	}
	e.logger.Debug("ollama embed", zap.String("model", e.model), zap.Int("count", len(texts)))
	return vecs, nil
}

// Dim returns the configured embedding width.
func (e *OllamaEmbedder) Dim() int { return e.dim }

// ID returns "ollama".
func (e *OllamaEmbedder) ID() string { return "ollama" }

type ollamaShowResponse struct {
	Digest string `json:"digest"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name   string `json:"name"`
		Digest string `json:"digest"`
	} `json:"models"`
}

// Version returns the model digest. It asks /api/show first and falls back
// to the /api/tags listing, matching the model name with or without a
// ":latest" suffix. When neither yields a digest the result is
// "<model>:unknown". A discovered digest is cached; unknown is not.
func (e *OllamaEmbedder) Version(ctx context.Context) (string, error) {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	if e.version != "" {
		return e.version, nil
	}

	if digest := e.showDigest(ctx); digest != "" {
		e.version = digest
		return digest, nil
	}
	if digest := e.tagsDigest(ctx); digest != "" {
		e.version = digest
		return digest, nil
	}
	e.logger.Warn("could not determine model version", zap.String("model", e.model))
	return e.model + ":unknown", nil
}

func (e *OllamaEmbedder) showDigest(ctx context.Context) string {
	var body ollamaShowResponse
	status, err := e.do(ctx, http.MethodPost, "/api/show", map[string]string{"model": e.model}, &body)
	if err != nil || status != http.StatusOK {
		e.logger.Debug("ollama show failed", zap.Int("status", status), zap.Error(err))
		return ""
	}
	return body.Digest
}

func (e *OllamaEmbedder) tagsDigest(ctx context.Context) string {
	var body ollamaTagsResponse
	status, err := e.do(ctx, http.MethodGet, "/api/tags", nil, &body)
	if err != nil || status != http.StatusOK {
		e.logger.Debug("ollama tags failed", zap.Int("status", status), zap.Error(err))
		return ""
	}
	latest := ""
	for _, m := range body.Models {
		if m.Name == e.model && m.Digest != "" {
			return m.Digest
		}
		if m.Name == e.model+":latest" && m.Digest != "" {
			latest = m.Digest
		}
	}
	return latest
}

// do sends a JSON request and decodes a successful JSON response into out.
// It returns the HTTP status; non-2xx bodies are discarded.
func (e *OllamaEmbedder) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode ollama response: %w", err)
	}
	return resp.StatusCode, nil
}
