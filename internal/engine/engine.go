// Package engine serializes access to the vector store and runs scans and
// snapshot I/O on bounded worker goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sync"
	"time"

	"github.com/hyperjump/indexd/internal/storage"
	"github.com/hyperjump/indexd/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Recorder receives engine measurements. metrics.Metrics implements it.
type Recorder interface {
	ObserveSearch(d time.Duration, stats vector.ScanStats)
	AddUpserted(n int)
	AddDeleted(n int)
	SetStoreSize(chunks, dims int)
	ObserveSnapshot(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSearch(time.Duration, vector.ScanStats) {}
func (nopRecorder) AddUpserted(int)                               {}
func (nopRecorder) AddDeleted(int)                                {}
func (nopRecorder) SetStoreSize(int, int)                         {}
func (nopRecorder) ObserveSnapshot(string, error)                 {}

// ChunkInput is one chunk of a document being written.
type ChunkInput struct {
	ChunkID string
	Vector  []float32
	Meta    vector.Metadata
}

// Match is a search hit together with the chunk's metadata. Meta is shared
// with the store and must not be modified.
type Match struct {
	DocID   string
	ChunkID string
	Score   float32
	Meta    vector.Metadata
}

// Stats describes the store contents.
type Stats struct {
	Chunks     int
	Dims       int
	HasDims    bool
	Namespaces map[string]int
}

// Engine guards a vector.Store with a single reader/writer lock. Mutations
// take the write lock; searches and lookups share the read lock.
type Engine struct {
	mu      sync.RWMutex
	store   *vector.Store
	workers *semaphore.Weighted
	logger  *zap.Logger
	metrics Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers bounds the number of concurrent offloaded scans and dumps.
// n <= 0 means runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		e.workers = semaphore.NewWeighted(int64(n))
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// New returns an engine over store. A nil store starts empty.
func New(store *vector.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		workers: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger:  zap.NewNop(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = vector.NewStore(vector.WithLogger(e.logger))
	}
	return e
}

// offload runs fn on a worker goroutine once a worker slot is free and waits
// for it. If ctx ends first, offload returns ctx.Err() while fn keeps running
// to completion in the background.
func (e *Engine) offload(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer e.workers.Release(1)
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportSize must be called with e.mu held.
func (e *Engine) reportSize() {
	dims, _ := e.store.Dims()
	e.metrics.SetStoreSize(e.store.Len(), dims)
}

// Upsert writes a single chunk.
func (e *Engine) Upsert(ctx context.Context, namespace, docID, chunkID string, vec []float32, meta vector.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Upsert(namespace, docID, chunkID, vec, meta); err != nil {
		return err
	}
	e.metrics.AddUpserted(1)
	e.reportSize()
	return nil
}

// ReplaceDocument replaces every chunk of docID in namespace with chunks.
// Vector widths are validated against each other and against the store
// before any mutation, and the delete and inserts happen in one write-lock
// critical section. An empty chunks slice only deletes the document.
func (e *Engine) ReplaceDocument(ctx context.Context, namespace, docID string, chunks []ChunkInput) error {
	width, err := stagedWidth(chunks)
	if err != nil {
		return err
	}
	if dims, ok := e.Dims(); ok && width > 0 && width != dims {
		return &vector.DimensionMismatchError{Expected: dims, Actual: width}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another writer may have latched the dimensionality since the check above.
	if dims, ok := e.store.Dims(); ok && width > 0 && width != dims {
		return &vector.DimensionMismatchError{Expected: dims, Actual: width}
	}

	removed := e.store.DeleteDocument(namespace, docID)
	for _, c := range chunks {
		if err := e.store.Upsert(namespace, docID, c.ChunkID, c.Vector, c.Meta); err != nil {
			e.logger.Error("replace document failed after delete",
				zap.String("namespace", namespace),
				zap.String("doc_id", docID),
				zap.String("chunk_id", c.ChunkID),
				zap.Error(err))
			e.metrics.AddDeleted(removed)
			e.reportSize()
			return err
		}
	}
	e.metrics.AddDeleted(removed)
	e.metrics.AddUpserted(len(chunks))
	e.reportSize()
	e.logger.Debug("document replaced",
		zap.String("namespace", namespace),
		zap.String("doc_id", docID),
		zap.Int("removed", removed),
		zap.Int("chunks", len(chunks)))
	return nil
}

// stagedWidth returns the common vector width of chunks.
func stagedWidth(chunks []ChunkInput) (int, error) {
	width := 0
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			return 0, fmt.Errorf("chunk %q: %w", c.ChunkID, vector.ErrEmptyVector)
		}
		if i == 0 {
			width = len(c.Vector)
			continue
		}
		if len(c.Vector) != width {
			return 0, &vector.DimensionMismatchError{Expected: width, Actual: len(c.Vector)}
		}
	}
	return width, nil
}

// DeleteDocument removes every chunk of docID in namespace.
func (e *Engine) DeleteDocument(ctx context.Context, namespace, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.store.DeleteDocument(namespace, docID)
	e.metrics.AddDeleted(removed)
	e.reportSize()
	return removed, nil
}

// Search returns the k best matches for query in namespace. Unlike
// vector.Store.Search, a query whose width disagrees with the latched
// dimensionality is an error (*vector.DimensionMismatchError). An empty store
// yields no matches.
func (e *Engine) Search(ctx context.Context, namespace string, query []float32, k int, filters any) ([]Match, error) {
	var (
		matches  []Match
		stats    vector.ScanStats
		mismatch error
	)
	start := time.Now()
	err := e.offload(ctx, func() {
		e.mu.RLock()
		defer e.mu.RUnlock()
		if dims, ok := e.store.Dims(); ok && len(query) != dims {
			mismatch = &vector.DimensionMismatchError{Expected: dims, Actual: len(query)}
			return
		}
		var hits []vector.Hit
		hits, stats = e.store.SearchWithStats(namespace, query, k, filters)
		matches = make([]Match, 0, len(hits))
		for _, h := range hits {
			meta, _ := e.store.ChunkMeta(namespace, h.DocID, h.ChunkID)
			matches = append(matches, Match{DocID: h.DocID, ChunkID: h.ChunkID, Score: h.Score, Meta: meta})
		}
	})
	if err != nil {
		return nil, err
	}
	if mismatch != nil {
		return nil, mismatch
	}
	e.metrics.ObserveSearch(time.Since(start), stats)
	return matches, nil
}

// ChunkMeta returns the metadata of one chunk.
func (e *Engine) ChunkMeta(namespace, docID, chunkID string) (vector.Metadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.ChunkMeta(namespace, docID, chunkID)
}

// Dims returns the store's latched dimensionality.
func (e *Engine) Dims() (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Dims()
}

// Len returns the number of stored chunks.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Len()
}

// IsEmpty reports whether the store holds no chunks.
func (e *Engine) IsEmpty() bool {
	return e.Len() == 0
}

// Stats returns per-namespace chunk counts and the dimensionality.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dims, ok := e.store.Dims()
	st := Stats{
		Chunks:     e.store.Len(),
		Dims:       dims,
		HasDims:    ok,
		Namespaces: make(map[string]int),
	}
	for _, ns := range e.store.Namespaces() {
		st.Namespaces[ns] = e.store.NamespaceLen(ns)
	}
	return st
}

// Save writes a snapshot of the store to path. The read lock is held from
// before the dump starts until the worker finishes writing, so writers wait
// for the dump. If ctx ends first, Save returns ctx.Err() and the dump still
// completes in the background.
func (e *Engine) Save(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	type result struct {
		n   int
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	e.mu.RLock()
	go func() {
		defer e.workers.Release(1)
		defer e.mu.RUnlock()
		n, err := storage.SaveSnapshot(path, e.store, e.logger)
		done <- result{n: n, err: err}
	}()

	select {
	case res := <-done:
		e.metrics.ObserveSnapshot("save", res.err)
		if res.err != nil {
			return 0, res.err
		}
		e.logger.Info("saved snapshot",
			zap.String("path", path),
			zap.Int("count", res.n),
			zap.Duration("took", time.Since(start)))
		return res.n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Load reads the snapshot at path into the store. Decoding happens on a
// worker without holding the lock; the records are then applied under the
// write lock. A missing file is not an error. A corrupt file applies nothing.
func (e *Engine) Load(ctx context.Context, path string) (storage.LoadStats, error) {
	stats, err := e.applyFile(ctx, "load", path)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Info("no snapshot found, starting empty", zap.String("path", path))
		return storage.LoadStats{}, nil
	}
	if err != nil {
		return stats, err
	}
	e.logger.Info("loaded snapshot",
		zap.String("path", path),
		zap.Int("count", stats.Loaded),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// ImportFile merges the records of a snapshot-formatted file into the store.
// Unlike Load, a missing file is an error.
func (e *Engine) ImportFile(ctx context.Context, path string) (storage.LoadStats, error) {
	stats, err := e.applyFile(ctx, "import", path)
	if err != nil {
		return stats, err
	}
	e.logger.Info("imported file",
		zap.String("path", path),
		zap.Int("count", stats.Loaded),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (e *Engine) applyFile(ctx context.Context, op, path string) (storage.LoadStats, error) {
	var (
		records []storage.Record
		readErr error
	)
	if err := e.offload(ctx, func() {
		records, readErr = storage.ReadSnapshotFile(path)
	}); err != nil {
		return storage.LoadStats{}, err
	}
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			return storage.LoadStats{}, readErr
		}
		e.metrics.ObserveSnapshot(op, readErr)
		return storage.LoadStats{}, fmt.Errorf("failed to %s %s: %w", op, path, readErr)
	}

	e.mu.Lock()
	stats := storage.ApplyRecords(e.store, records, e.logger)
	e.metrics.AddUpserted(stats.Loaded)
	e.reportSize()
	e.mu.Unlock()

	e.metrics.ObserveSnapshot(op, nil)
	return stats, nil
}
