// Package watcher imports snapshot-formatted files dropped into an inbox
// directory. It watches with fsnotify and debounces bursts of writes.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/indexd/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 400 * time.Millisecond

	// ImportedSuffix is appended to a file once its records are in the store.
	ImportedSuffix = ".imported"
	// FailedSuffix is appended to a file that could not be decoded.
	FailedSuffix = ".failed"
)

// DefaultExtensions are the file types picked up from the inbox.
var DefaultExtensions = []string{".jsonl", ".zst"}

// Importer merges a snapshot-formatted file into the store. engine.Engine
// implements it.
type Importer interface {
	ImportFile(ctx context.Context, path string) (storage.LoadStats, error)
}

// Inbox watches one directory and imports matching files.
type Inbox struct {
	dir        string
	extensions []string
	importer   Importer
	debounce   time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	inflight    map[string]bool
	ctx         context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	wg          sync.WaitGroup

	imported atomic.Int64
	failed   atomic.Int64
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is imported.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// WithExtensions replaces DefaultExtensions.
func WithExtensions(exts ...string) Option {
	return func(in *Inbox) { in.extensions = exts }
}

// NewInbox creates an inbox over dir. The directory is created on Start if
// it does not exist.
func NewInbox(dir string, importer Importer, opts ...Option) *Inbox {
	in := &Inbox{
		dir:         filepath.Clean(dir),
		extensions:  DefaultExtensions,
		importer:    importer,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		inflight:    make(map[string]bool),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Imported returns the number of files imported so far.
func (in *Inbox) Imported() int64 { return in.imported.Load() }

// Failed returns the number of files that could not be imported.
func (in *Inbox) Failed() int64 { return in.failed.Load() }

// Start begins watching and imports files already present. It runs until
// ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		in.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	if err := watcher.Add(in.dir); err != nil {
		_ = watcher.Close()
		in.mu.Unlock()
		return err
	}
	in.watcher = watcher
	in.ctx = ctx
	in.started = true
	in.mu.Unlock()

	in.logger.Info("import inbox watching", zap.String("dir", in.dir), zap.Strings("extensions", in.extensions))
	go in.run(ctx, watcher)
	in.SyncExisting()
	return nil
}

// Run starts the inbox and blocks until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	if err := in.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	in.Stop()
	return nil
}

func (in *Inbox) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				in.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if filepath.Dir(filepath.Clean(path)) != in.dir || !in.matchExtension(path) {
		return
	}
	in.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		in.debounceImport(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.cancelDebounce(path)
	}
}

func (in *Inbox) matchExtension(path string) bool {
	return matchExtension(path, in.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	extNorm := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

func (in *Inbox) debounceImport(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
	}
	in.debounceMap[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.debounceMap, path)
		in.mu.Unlock()
		in.importFile(path)
	})
}

func (in *Inbox) cancelDebounce(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
		delete(in.debounceMap, path)
	}
}

// SyncExisting imports every matching file already in the directory, in
// name order.
func (in *Inbox) SyncExisting() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("failed to list import inbox", zap.String("dir", in.dir), zap.Error(err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && in.matchExtension(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		in.importFile(filepath.Join(in.dir, name))
	}
}

// importFile imports path once and renames it with ImportedSuffix or
// FailedSuffix. Concurrent triggers for the same path are collapsed.
func (in *Inbox) importFile(path string) {
	in.mu.Lock()
	if in.inflight[path] || !in.started {
		in.mu.Unlock()
		return
	}
	in.inflight[path] = true
	ctx := in.ctx
	in.wg.Add(1)
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		delete(in.inflight, path)
		in.mu.Unlock()
		in.wg.Done()
	}()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}
	stats, err := in.importer.ImportFile(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		in.failed.Add(1)
		in.logger.Warn("import failed", zap.String("path", path), zap.Error(err))
		in.rename(path, path+FailedSuffix)
		return
	}
	in.imported.Add(1)
	in.logger.Info("imported inbox file",
		zap.String("path", path),
		zap.Int("count", stats.Loaded),
		zap.Int("skipped", stats.Skipped))
	in.rename(path, path+ImportedSuffix)
}

func (in *Inbox) rename(from, to string) {
	if err := os.Rename(from, to); err != nil {
		in.logger.Warn("failed to rename inbox file", zap.String("path", from), zap.Error(err))
	}
}

// Stop stops watching, cancels pending imports and waits for running ones.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.debounceMap {
		t.Stop()
		delete(in.debounceMap, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
	in.wg.Wait()
}
