// Package storage persists the vector store as line-delimited JSON snapshots
// and keeps a SQLite-backed cache of generated embeddings.
package storage

import "github.com/hyperjump/indexd/internal/vector"

// Record is one line of a snapshot file.
type Record struct {
	Namespace string          `json:"namespace"`
	DocID     string          `json:"doc_id"`
	ChunkID   string          `json:"chunk_id"`
	Embedding []float32       `json:"embedding"`
	Meta      vector.Metadata `json:"meta"`
}

// LoadStats summarizes applying snapshot records to a store.
type LoadStats struct {
	Loaded  int
	Skipped int
}
