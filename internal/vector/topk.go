package vector

import (
	"container/heap"
	"sort"
)

// ranksBefore reports whether a orders ahead of b: higher score first, then
// the lexicographically smaller (DocID, ChunkID).
func ranksBefore(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.DocID != b.DocID {
		return a.DocID < b.DocID
	}
	return a.ChunkID < b.ChunkID
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return ranksBefore(hits[i], hits[j]) })
}

// hitHeap keeps the weakest hit at the root.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) { *h = append(*h, x.(Hit)) }

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK retains the k best hits offered to it.
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k)}
}

func (t *topK) offer(hit Hit) {
	if len(t.h) < t.k {
		heap.Push(&t.h, hit)
		return
	}
	if ranksBefore(hit, t.h[0]) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the retained hits best first.
func (t *topK) sorted() []Hit {
	out := []Hit(t.h)
	sortHits(out)
	return out
}
