package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/indexd/internal/storage"
	"github.com/hyperjump/indexd/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	searches  int
	upserted  int
	deleted   int
	chunks    int
	dims      int
	snapshots map[string]int
}

func (r *recorder) ObserveSearch(time.Duration, vector.ScanStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches++
}

func (r *recorder) AddUpserted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted += n
}

func (r *recorder) AddDeleted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted += n
}

func (r *recorder) SetStoreSize(chunks, dims int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks, r.dims = chunks, dims
}

func (r *recorder) ObserveSnapshot(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshots == nil {
		r.snapshots = make(map[string]int)
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.snapshots[op+"/"+result]++
}

func chunk(id string, vec ...float32) ChunkInput {
	return ChunkInput{ChunkID: id, Vector: vec, Meta: vector.Metadata{"snippet": "text of " + id}}
}

func TestReplaceDocument(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e := New(nil, WithRecorder(rec))

	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0), chunk("c2", 0, 1), chunk("c3", 1, 1)}))
	assert.Equal(t, 3, e.Len())

	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c9", 1, 0)}))
	assert.Equal(t, 1, e.Len())
	_, ok := e.ChunkMeta("ns", "d1", "c1")
	assert.False(t, ok, "stale chunk must be gone")
	meta, ok := e.ChunkMeta("ns", "d1", "c9")
	require.True(t, ok)
	assert.Equal(t, "text of c9", meta["snippet"])

	assert.Equal(t, 4, rec.upserted)
	assert.Equal(t, 3, rec.deleted)
	assert.Equal(t, 1, rec.chunks)
	assert.Equal(t, 2, rec.dims)
}

func TestReplaceDocumentRejectsMixedWidths(t *testing.T) {
	ctx := context.Background()
	e := New(nil)

	err := e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0), chunk("c2", 1, 0, 0)})
	var mismatch *vector.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Expected)
	assert.Equal(t, 3, mismatch.Actual)
	assert.True(t, e.IsEmpty())
	_, ok := e.Dims()
	assert.False(t, ok)
}

func TestReplaceDocumentRejectsEmptyVector(t *testing.T) {
	e := New(nil)
	err := e.ReplaceDocument(context.Background(), "ns", "d1", []ChunkInput{{ChunkID: "c1"}})
	assert.ErrorIs(t, err, vector.ErrEmptyVector)
}

func TestReplaceDocumentKeepsDocumentOnStoreMismatch(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0)}))

	err := e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0, 0)})
	var mismatch *vector.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	_, ok := e.ChunkMeta("ns", "d1", "c1")
	assert.True(t, ok, "a rejected replace must not delete the document")
}

func TestReplaceDocumentWithNoChunksDeletes(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0)}))
	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", nil))
	assert.True(t, e.IsEmpty())
}

func TestUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	e := New(nil)
	require.NoError(t, e.Upsert(ctx, "ns", "d1", "c1", []float32{1, 0}, nil))
	require.NoError(t, e.Upsert(ctx, "ns", "d1", "c2", []float32{0, 1}, nil))
	require.NoError(t, e.Upsert(ctx, "ns", "d2", "c1", []float32{0, 1}, nil))

	err := e.Upsert(ctx, "ns", "d3", "c1", []float32{0, 1, 0}, nil)
	var mismatch *vector.DimensionMismatchError
	assert.True(t, errors.As(err, &mismatch))

	removed, err := e.DeleteDocument(ctx, "ns", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, e.Len())

	st := e.Stats()
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, 2, st.Dims)
	assert.True(t, st.HasDims)
	assert.Equal(t, map[string]int{"ns": 1}, st.Namespaces)
}

func TestWritesHonorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(nil)

	assert.ErrorIs(t, e.Upsert(ctx, "ns", "d1", "c1", []float32{1}, nil), context.Canceled)
	assert.ErrorIs(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1)}), context.Canceled)
	_, err := e.DeleteDocument(ctx, "ns", "d1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.IsEmpty())
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e := New(nil, WithRecorder(rec), WithWorkers(1))

	matches, err := e.Search(ctx, "ns", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches, "empty store")

	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0), chunk("c2", 0, 1)}))
	require.NoError(t, e.ReplaceDocument(ctx, "ns", "d2", []ChunkInput{chunk("c1", 1, 1)}))

	matches, err = e.Search(ctx, "ns", []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "d1", matches[0].DocID)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.Equal(t, "text of c1", matches[0].Meta["snippet"])
	assert.Equal(t, "d2", matches[1].DocID)
	assert.Equal(t, 2, rec.searches)

	_, err = e.Search(ctx, "ns", []float32{1, 0, 0}, 2, nil)
	var mismatch *vector.DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Expected)
	assert.Equal(t, 3, mismatch.Actual)
}

func TestSearchCanceledBeforeWorkerSlot(t *testing.T) {
	e := New(nil, WithWorkers(1))
	require.NoError(t, e.Upsert(context.Background(), "ns", "d1", "c1", []float32{1, 0}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Search(ctx, "ns", []float32{1, 0}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	e := New(nil, WithWorkers(4))
	require.NoError(t, e.Upsert(ctx, "ns", "seed", "c0", []float32{1, 0, 0}, nil))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				doc := fmt.Sprintf("w%d-d%d", w, i%5)
				assert.NoError(t, e.ReplaceDocument(ctx, "ns", doc, []ChunkInput{chunk("c1", 1, float32(i), 0)}))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				matches, err := e.Search(ctx, "ns", []float32{1, 0, 0}, 3, nil)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(matches), 3)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 21, e.Len())
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.jsonl")
	rec := &recorder{}

	src := New(nil, WithRecorder(rec))
	require.NoError(t, src.ReplaceDocument(ctx, "ns", "d1", []ChunkInput{chunk("c1", 1, 0)}))
	require.NoError(t, src.ReplaceDocument(ctx, "ns", "d2", []ChunkInput{chunk("c2", 0, 1)}))

	n, err := src.Save(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, rec.snapshots["save/ok"])

	// Writers are not blocked once the dump has finished.
	require.NoError(t, src.Upsert(ctx, "ns", "d3", "c1", []float32{1, 1}, nil))

	dst := New(nil)
	stats, err := dst.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, storage.LoadStats{Loaded: 2}, stats)
	assert.Equal(t, 2, dst.Len())
	meta, ok := dst.ChunkMeta("ns", "d2", "c2")
	require.True(t, ok)
	assert.Equal(t, "text of c2", meta["snippet"])
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := New(nil)

	stats, err := e.Load(ctx, filepath.Join(dir, "absent.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, storage.LoadStats{}, stats)

	corrupt := filepath.Join(dir, "corrupt.jsonl")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"namespace":"ns","doc_id":"d1","chunk_id":"c1","embedding":[1],"meta":{}}`+"\nnot json\n"), 0o644))
	_, err = e.Load(ctx, corrupt)
	require.Error(t, err)
	assert.True(t, e.IsEmpty())
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := New(nil)
	require.NoError(t, e.Upsert(ctx, "ns", "existing", "c1", []float32{1, 0}, nil))

	path := filepath.Join(dir, "drop.jsonl")
	content := `{"namespace":"ns","doc_id":"d1","chunk_id":"c1","embedding":[0,3],"meta":{"snippet":"x"}}
{"namespace":"ns","doc_id":"d2","chunk_id":"c1","embedding":[0,1,0],"meta":{}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	stats, err := e.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, storage.LoadStats{Loaded: 1, Skipped: 1}, stats)
	assert.Equal(t, 2, e.Len())

	_, err = e.ImportFile(ctx, filepath.Join(dir, "absent.jsonl"))
	assert.Error(t, err)
}
