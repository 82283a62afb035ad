package retrieval

import (
	"context"
	"sync"
)

// Searcher is the query-side capability the answer assembler needs.
// Both *Retriever and *Handle satisfy it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]RetrievedChunk, error)
}

// Handle is a lazily loaded, resettable Retriever for the serving path.
// Index rebuilds replace the on-disk artifacts via atomic rename; calling
// Reset afterwards makes the next search reopen them, so a long-running
// server picks up a rebuild without restarting.
type Handle struct {
	open func() (*Retriever, error)

	mu  sync.Mutex
	cur *Retriever
}

var _ Searcher = (*Handle)(nil)

// NewHandle creates a Handle; open is invoked on first use and after Reset.
func NewHandle(open func() (*Retriever, error)) *Handle {
	return &Handle{open: open}
}

// Search obtains the current retriever (loading it if needed) and searches.
func (h *Handle) Search(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	r, err := h.retriever()
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, query, topK)
}

// Len reports the number of indexed chunks, loading the retriever if needed.
func (h *Handle) Len() (int, error) {
	r, err := h.retriever()
	if err != nil {
		return 0, err
	}
	return r.Len(), nil
}

// Reset drops the cached retriever so the next search reloads the artifacts.
func (h *Handle) Reset() {
	h.mu.Lock()
	h.cur = nil
	h.mu.Unlock()
}

func (h *Handle) retriever() (*Retriever, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil {
		return h.cur, nil
	}
	r, err := h.open()
	if err != nil {
		return nil, err
	}
	h.cur = r
	return r, nil
}
