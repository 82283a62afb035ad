// Package index implements a flat inner-product vector index over ticket
// chunks. Vectors and chunk metadata live in one structure sharing a single
// length invariant, so the ordinal position joining them can never drift.
package index

import (
	"container/heap"
	"fmt"

	"github.com/opsdesk/ticketrag/internal/chunklog"
)

// Index pairs embedding vectors with the chunk records they were computed
// from. Entry i of the metadata corresponds to vector i, always.
type Index struct {
	model   string
	dim     int
	vectors []float32 // row-major, len = count*dim
	meta    []chunklog.Record
}

// New creates an empty index for vectors of the given dimension. model is
// the embedding-model fingerprint persisted alongside the vectors.
func New(model string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &Index{model: model, dim: dim}, nil
}

// Add appends one vector and its chunk record in lockstep.
func (x *Index) Add(vec []float32, rec chunklog.Record) error {
	if len(vec) != x.dim {
		return fmt.Errorf("vector dimension %d, index expects %d", len(vec), x.dim)
	}
	x.vectors = append(x.vectors, vec...)
	x.meta = append(x.meta, rec)
	return nil
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int { return len(x.meta) }

// Dim returns the vector dimension.
func (x *Index) Dim() int { return x.dim }

// Model returns the embedding-model fingerprint recorded at build time.
func (x *Index) Model() string { return x.model }

// Hit is one search result: a chunk record with its similarity score.
// Vectors are L2-normalized by the embedder, so inner product here equals
// cosine similarity.
type Hit struct {
	chunklog.Record
	Score float32
}

// Search returns up to topK hits ordered by descending inner-product
// similarity. Fewer hits than topK are returned when the index is smaller.
func (x *Index) Search(query []float32, topK int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension %d, index expects %d", len(query), x.dim)
	}
	if topK <= 0 || x.Len() == 0 {
		return nil, nil
	}

	h := &ordScoreHeap{}
	heap.Init(h)
	for ord := 0; ord < x.Len(); ord++ {
		row := x.vectors[ord*x.dim : (ord+1)*x.dim]
		var score float32
		for i, q := range query {
			score += q * row[i]
		}
		if h.Len() < topK {
			heap.Push(h, ordScore{ord: ord, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = ordScore{ord: ord, score: score}
			heap.Fix(h, 0)
		}
	}

	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		item := heap.Pop(h).(ordScore)
		hits[i] = Hit{Record: x.meta[item.ord], Score: item.score}
	}
	return hits, nil
}

// ordScore tracks an ordinal position and its score during the scan.
type ordScore struct {
	ord   int
	score float32
}

// ordScoreHeap is a min-heap by score, keeping the current top-K candidates.
type ordScoreHeap []ordScore

func (h ordScoreHeap) Len() int           { return len(h) }
func (h ordScoreHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h ordScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ordScoreHeap) Push(x any)        { *h = append(*h, x.(ordScore)) }
func (h *ordScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
