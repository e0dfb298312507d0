// Package server provides the HTTP API for the index daemon.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/indexd/internal/config"
	"github.com/hyperjump/indexd/internal/embedding"
	"github.com/hyperjump/indexd/internal/engine"
	"github.com/hyperjump/indexd/internal/metrics"
	"go.uber.org/zap"
)

// Producer is reported as the origin of generated embeddings.
const Producer = "indexd"

// Server is the HTTP server for the index API.
type Server struct {
	engine    *engine.Engine
	embedder  embedding.Embedder
	config    *config.Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
	version   string
	startedAt time.Time

	mu      sync.Mutex
	server  *http.Server
	stopped bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the build version reported by /status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server. embedder may be nil, in which case requests
// without a client-supplied vector are rejected.
func NewServer(eng *engine.Engine, embedder embedding.Embedder, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	s := &Server{
		engine:    eng,
		embedder:  embedder,
		config:    cfg,
		logger:    logger,
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Post("/index/upsert", s.handleUpsert)
	r.Post("/index/delete", s.handleDelete)
	r.Post("/index/search", s.handleSearch)
	r.Post("/embed/text", s.handleEmbedText)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called. A clean shutdown,
// including one requested before Serve ran, returns nil.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server. A Serve call made after Stop
// closes its listener and returns nil.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
