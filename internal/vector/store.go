package vector

import (
	"maps"
	"math"
	"sort"
	"strings"

	"github.com/hyperjump/indexd/pkg/utils"
	"go.uber.org/zap"
)

// Metadata is the opaque JSON object stored alongside a chunk.
type Metadata = map[string]any

// Chunk is a stored record: a unit-normalized vector and its metadata.
type Chunk struct {
	Vector []float32
	Meta   Metadata
}

// Hit is a single search result.
type Hit struct {
	DocID   string
	ChunkID string
	Score   float32
}

// ScanStats describes one search scan.
type ScanStats struct {
	Scanned    int
	NaNDropped int
}

// Store is a namespaced collection of chunks sharing one dimensionality.
//
// The dimensionality is latched by the first vector inserted into any
// namespace and binds every later insert and query in every namespace. It is
// cleared again only when the whole store becomes empty.
//
// Store is not safe for concurrent use; engine.Engine serializes access.
type Store struct {
	namespaces map[string]map[string]Chunk
	dims       int
	hasDims    bool
	size       int
	logger     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for search diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		namespaces: make(map[string]map[string]Chunk),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dims returns the latched dimensionality and whether it is set.
func (s *Store) Dims() (int, bool) {
	return s.dims, s.hasDims
}

// Len returns the number of chunks across all namespaces.
func (s *Store) Len() int {
	return s.size
}

// IsEmpty reports whether the store holds no chunks.
func (s *Store) IsEmpty() bool {
	return s.size == 0
}

// Upsert inserts or overwrites a chunk. The vector is copied and normalized
// to unit length; vectors with a near-zero norm are stored as given. The top
// level of meta is copied; nested values are shared with the caller.
func (s *Store) Upsert(namespace, docID, chunkID string, vec []float32, meta Metadata) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if s.hasDims && len(vec) != s.dims {
		return &DimensionMismatchError{Expected: s.dims, Actual: len(vec)}
	}
	if !s.hasDims {
		s.dims = len(vec)
		s.hasDims = true
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	utils.NormalizeL2(stored)

	chunks, ok := s.namespaces[namespace]
	if !ok {
		chunks = make(map[string]Chunk)
		s.namespaces[namespace] = chunks
	}
	key := MakeKey(docID, chunkID)
	if _, exists := chunks[key]; !exists {
		s.size++
	}
	chunks[key] = Chunk{Vector: stored, Meta: maps.Clone(meta)}
	return nil
}

// DeleteDocument removes every chunk of docID in namespace and returns how
// many were removed.
func (s *Store) DeleteDocument(namespace, docID string) int {
	removed := 0
	if chunks, ok := s.namespaces[namespace]; ok {
		prefix := docPrefix(docID)
		for key := range chunks {
			if strings.HasPrefix(key, prefix) {
				delete(chunks, key)
				removed++
			}
		}
		if len(chunks) == 0 {
			delete(s.namespaces, namespace)
		}
	}
	s.size -= removed
	if s.size == 0 {
		s.dims = 0
		s.hasDims = false
	}
	return removed
}

// Chunk returns the stored record for (namespace, docID, chunkID).
func (s *Store) Chunk(namespace, docID, chunkID string) (Chunk, bool) {
	chunks, ok := s.namespaces[namespace]
	if !ok {
		return Chunk{}, false
	}
	c, ok := chunks[MakeKey(docID, chunkID)]
	return c, ok
}

// ChunkMeta returns the metadata of a single chunk.
func (s *Store) ChunkMeta(namespace, docID, chunkID string) (Metadata, bool) {
	c, ok := s.Chunk(namespace, docID, chunkID)
	if !ok {
		return nil, false
	}
	return c.Meta, true
}

// Namespaces returns the non-empty namespaces in sorted order.
func (s *Store) Namespaces() []string {
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamespaceLen returns the number of chunks in namespace.
func (s *Store) NamespaceLen(namespace string) int {
	return len(s.namespaces[namespace])
}

// Range calls fn for every chunk, ordered by namespace and then by key.
// Iteration stops when fn returns false. fn must not mutate the store.
func (s *Store) Range(fn func(namespace, docID, chunkID string, c Chunk) bool) {
	for _, ns := range s.Namespaces() {
		chunks := s.namespaces[ns]
		keys := make([]string, 0, len(chunks))
		for key := range chunks {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			docID, chunkID := SplitKey(key)
			if !fn(ns, docID, chunkID, chunks[key]) {
				return
			}
		}
	}
}

// Search returns the k chunks of namespace closest to query, best first.
// filters is accepted for forward compatibility and currently ignored.
func (s *Store) Search(namespace string, query []float32, k int, filters any) []Hit {
	hits, _ := s.SearchWithStats(namespace, query, k, filters)
	return hits
}

// SearchWithStats is Search that also reports scan statistics.
//
// Scores are dot products of the normalized query and the stored unit
// vectors. NaN scores are dropped. Equal scores are ordered by (docID,
// chunkID) ascending. A query whose length disagrees with the store's
// dimensionality yields no hits.
func (s *Store) SearchWithStats(namespace string, query []float32, k int, _ any) ([]Hit, ScanStats) {
	var stats ScanStats
	if k <= 0 || !s.hasDims {
		return nil, stats
	}
	if len(query) != s.dims {
		s.logger.Warn("query dimension mismatch",
			zap.String("namespace", namespace),
			zap.Int("expected", s.dims),
			zap.Int("actual", len(query)))
		return nil, stats
	}
	chunks, ok := s.namespaces[namespace]
	if !ok {
		return nil, stats
	}

	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	var hits []Hit
	if len(chunks) <= k {
		hits = make([]Hit, 0, len(chunks))
		for key, c := range chunks {
			stats.Scanned++
			score := Dot(q, c.Vector)
			if math.IsNaN(float64(score)) {
				stats.NaNDropped++
				continue
			}
			docID, chunkID := SplitKey(key)
			hits = append(hits, Hit{DocID: docID, ChunkID: chunkID, Score: score})
		}
		sortHits(hits)
	} else {
		top := newTopK(k)
		for key, c := range chunks {
			stats.Scanned++
			score := Dot(q, c.Vector)
			if math.IsNaN(float64(score)) {
				stats.NaNDropped++
				continue
			}
			docID, chunkID := SplitKey(key)
			top.offer(Hit{DocID: docID, ChunkID: chunkID, Score: score})
		}
		hits = top.sorted()
	}

	if stats.NaNDropped > 0 {
		s.logger.Warn("dropped NaN scores",
			zap.String("namespace", namespace),
			zap.Int("count", stats.NaNDropped))
	}
	return hits, stats
}
