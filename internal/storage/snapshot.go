package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/hyperjump/indexd/internal/vector"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const snapshotBufferSize = 1 << 20

// Compressed reports whether path names a zstd-compressed snapshot.
func Compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// WriteSnapshot writes every chunk of store to w, one JSON record per line,
// and returns the number of records written. Chunks holding non-finite
// components cannot be encoded as JSON and are skipped with a warning.
func WriteSnapshot(w io.Writer, store *vector.Store, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc := json.NewEncoder(w)
	var (
		written int
		skipped int
		err     error
	)
	store.Range(func(ns, docID, chunkID string, c vector.Chunk) bool {
		if !finite(c.Vector) {
			skipped++
			logger.Warn("skipping chunk with non-finite embedding",
				zap.String("namespace", ns),
				zap.String("doc_id", docID),
				zap.String("chunk_id", chunkID))
			return true
		}
		rec := Record{
			Namespace: ns,
			DocID:     docID,
			ChunkID:   chunkID,
			Embedding: c.Vector,
			Meta:      c.Meta,
		}
		if err = enc.Encode(&rec); err != nil {
			err = fmt.Errorf("encode record %s/%s/%s: %w", ns, docID, chunkID, err)
			return false
		}
		written++
		return true
	})
	if err != nil {
		return written, err
	}
	if skipped > 0 {
		logger.Warn("snapshot omitted chunks", zap.Int("skipped", skipped))
	}
	return written, nil
}

// SaveSnapshot atomically replaces path with a snapshot of store. The data is
// written to a temporary file in the same directory, synced, and renamed over
// path, so readers never observe a partial file. Parent directories are
// created as needed.
func SaveSnapshot(path string, store *vector.Store, logger *zap.Logger) (written int, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := f.Name()
	defer func() {
		if tmpName != "" {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := f.Chmod(0o644); err != nil {
		return 0, fmt.Errorf("failed to chmod temp snapshot: %w", err)
	}

	bw := bufio.NewWriterSize(f, snapshotBufferSize)
	var out io.Writer = bw
	var zw *zstd.Encoder
	if Compressed(path) {
		zw, err = zstd.NewWriter(bw)
		if err != nil {
			return 0, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = zw
	}

	written, err = WriteSnapshot(out, store, logger)
	if err != nil {
		if zw != nil {
			_ = zw.Close()
		}
		return 0, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close snapshot: %w", err)
	}

	// Rename does not replace an existing file on Windows.
	if runtime.GOOS == "windows" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("failed to remove old snapshot: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to rename snapshot: %w", err)
	}
	tmpName = ""

	syncDir(dir)
	return written, nil
}

// syncDir makes a completed rename durable. Errors are ignored: some
// platforms cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// ReadSnapshot decodes every record in r. Blank lines are skipped. A line
// that is not a valid record, or lacks a required field, aborts the read;
// no records are returned.
func ReadSnapshot(r io.Reader) ([]Record, error) {
	br := bufio.NewReaderSize(r, snapshotBufferSize)
	var records []Record
	for line := 1; ; line++ {
		raw, readErr := br.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			rec, err := decodeRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			records = append(records, rec)
		}
		if readErr == io.EOF {
			return records, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", readErr)
		}
	}
}

// wireRecord tells an absent or null field apart from an empty one.
type wireRecord struct {
	Namespace *string         `json:"namespace"`
	DocID     *string         `json:"doc_id"`
	ChunkID   *string         `json:"chunk_id"`
	Embedding *[]float32      `json:"embedding"`
	Meta      vector.Metadata `json:"meta"`
}

// decodeRecord parses one snapshot line. Every field but meta is required.
func decodeRecord(raw []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, err
	}
	switch {
	case w.Namespace == nil:
		return Record{}, errMissingField("namespace")
	case w.DocID == nil:
		return Record{}, errMissingField("doc_id")
	case w.ChunkID == nil:
		return Record{}, errMissingField("chunk_id")
	case w.Embedding == nil:
		return Record{}, errMissingField("embedding")
	}
	return Record{
		Namespace: *w.Namespace,
		DocID:     *w.DocID,
		ChunkID:   *w.ChunkID,
		Embedding: *w.Embedding,
		Meta:      w.Meta,
	}, nil
}

func errMissingField(name string) error {
	return fmt.Errorf("missing field `%s`", name)
}

// ReadSnapshotFile decodes the snapshot at path. A missing file returns an
// error matching fs.ErrNotExist.
func ReadSnapshotFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if Compressed(path) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return ReadSnapshot(r)
}

// ApplyRecords upserts records into store. A record whose embedding width
// disagrees with the store's dimensionality, including one set by an earlier
// record, is skipped with a warning. Vectors are normalized on the way in.
func ApplyRecords(store *vector.Store, records []Record, logger *zap.Logger) LoadStats {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats LoadStats
	for _, rec := range records {
		if dims, ok := store.Dims(); ok && len(rec.Embedding) != dims {
			logger.Warn("skipping record with mismatched dimensionality",
				zap.String("namespace", rec.Namespace),
				zap.String("doc_id", rec.DocID),
				zap.String("chunk_id", rec.ChunkID),
				zap.Int("expected", dims),
				zap.Int("actual", len(rec.Embedding)))
			stats.Skipped++
			continue
		}
		if err := store.Upsert(rec.Namespace, rec.DocID, rec.ChunkID, rec.Embedding, rec.Meta); err != nil {
			logger.Warn("skipping record",
				zap.String("namespace", rec.Namespace),
				zap.String("doc_id", rec.DocID),
				zap.String("chunk_id", rec.ChunkID),
				zap.Error(err))
			stats.Skipped++
			continue
		}
		stats.Loaded++
	}
	return stats
}

// LoadSnapshot reads the snapshot at path into store. A missing file is not
// an error and leaves store untouched.
func LoadSnapshot(path string, store *vector.Store, logger *zap.Logger) (LoadStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := ReadSnapshotFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no snapshot found, starting empty", zap.String("path", path))
		return LoadStats{}, nil
	}
	if err != nil {
		return LoadStats{}, fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	stats := ApplyRecords(store, records, logger)
	logger.Info("loaded snapshot",
		zap.String("path", path),
		zap.Int("count", stats.Loaded),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func finite(vec []float32) bool {
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}
