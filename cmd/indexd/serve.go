package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/indexd/internal/config"
	"github.com/hyperjump/indexd/internal/embedding"
	"github.com/hyperjump/indexd/internal/engine"
	"github.com/hyperjump/indexd/internal/metrics"
	"github.com/hyperjump/indexd/internal/server"
	"github.com/hyperjump/indexd/internal/storage"
	"github.com/hyperjump/indexd/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP index server",
		Long: `Run the HTTP index server.

The snapshot at storage.snapshot_path is loaded before the listener opens
and written back after a SIGINT or SIGTERM. When storage.import_dir is set,
snapshot-formatted files dropped there are merged into the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.Server.Host, cfg.Server.Port = host, port
			}
			logger, err := newLogger(cfg, opts)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("config loaded",
				zap.String("config_path", path),
				zap.Bool("debug", cfg.Debug || opts.debug))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (overrides server.host and server.port)")
	return cmd
}

// components holds everything serve builds from the config.
type components struct {
	engine   *engine.Engine
	embedder embedding.Embedder
	cache    *storage.SQLiteEmbeddingCache
	metrics  *metrics.Metrics
}

// Close releases the embedder and the embedding cache.
func (c *components) Close(logger *zap.Logger) {
	if c.embedder != nil {
		if err := embedding.Close(c.embedder); err != nil {
			logger.Warn("embedder close failed", zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			logger.Warn("embedding cache close failed", zap.Error(err))
		}
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{metrics: metrics.New()}

	factoryOpts := []embedding.FactoryOption{embedding.WithFactoryLogger(logger)}
	if cfg.Storage.EmbeddingCachePath != "" && cfg.Embedding.Provider != "" {
		cache, err := storage.NewSQLiteEmbeddingCache(cfg.Storage.EmbeddingCachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedding cache: %w", err)
		}
		c.cache = cache
		factoryOpts = append(factoryOpts, embedding.WithPersistentCache(cache))
	}

	emb, err := embedding.New(cfg.Embedding, factoryOpts...)
	if err != nil {
		c.Close(logger)
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.embedder = emb
	if emb == nil {
		logger.Info("no embedder configured; searches need a client-supplied vector")
	} else {
		logger.Info("embedder ready", zap.String("provider", emb.ID()), zap.Int("dim", emb.Dim()))
	}

	c.engine = engine.New(nil,
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Search.Workers),
		engine.WithRecorder(c.metrics),
	)
	return c, nil
}

// runServe loads the snapshot, serves until ctx ends, then saves.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close(logger)

	snapshotPath := cfg.Storage.SnapshotPath
	if snapshotPath != "" {
		if _, err := comps.engine.Load(ctx, snapshotPath); err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
	} else {
		logger.Warn("storage.snapshot_path is empty; the store will not be persisted")
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return err
	}
	srv := server.NewServer(comps.engine, comps.embedder, cfg, logger,
		server.WithMetrics(comps.metrics),
		server.WithVersion(version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	if dir := cfg.Storage.ImportDir; dir != "" {
		inbox := watcher.NewInbox(dir, comps.engine, watcher.WithLogger(logger))
		g.Go(func() error {
			if err := inbox.Run(gctx); err != nil {
				return fmt.Errorf("import inbox: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(stopCtx)
	})

	runErr := g.Wait()
	if snapshotPath != "" {
		if _, err := comps.engine.Save(context.Background(), snapshotPath); err != nil {
			logger.Warn("snapshot save failed", zap.String("path", snapshotPath), zap.Error(err))
		}
	}
	return runErr
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	return host, port, nil
}
