package vector

import (
	"strconv"
	"testing"
)

func benchStore(b *testing.B, n, dim int) *Store {
	b.Helper()
	s := NewStore()
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		vec[(i+1)%dim] = float32(i) / float32(n)
		if err := s.Upsert("docs", "doc-"+strconv.Itoa(i/4), strconv.Itoa(i%4), vec, Metadata{}); err != nil {
			b.Fatal(err)
		}
	}
	return s
}

func BenchmarkStoreSearch(b *testing.B) {
	s := benchStore(b, 1000, 384)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Search("docs", query, 10, nil)
	}
}

func BenchmarkStoreUpsert(b *testing.B) {
	s := NewStore()
	vec := make([]float32, 384)
	vec[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Upsert("docs", "doc", strconv.Itoa(i%1000), vec, nil)
	}
}

func BenchmarkKeyRoundTrip(b *testing.B) {
	for i := 0; i < b.N; i++ {
		docID, chunkID := SplitKey(MakeKey("doc-42", "chunk-7"))
		_, _ = docID, chunkID
	}
}
