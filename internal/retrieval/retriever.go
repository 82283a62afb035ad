package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsdesk/ticketrag/internal/index"
)

// DefaultTopK is how many chunks a search returns when the caller does not
// say otherwise.
const DefaultTopK = 5

// RetrievedChunk is one search result handed to the answer assembler.
type RetrievedChunk struct {
	TicketID  string  `json:"ticket_id"`
	ChunkID   int     `json:"chunk_id"`
	Content   string  `json:"content"`
	Project   string  `json:"project,omitempty"`
	Category  string  `json:"category,omitempty"`
	Status    string  `json:"status,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
	Score     float32 `json:"score"`
}

// Retriever embeds queries and searches the loaded index. Construction
// requires the index artifacts to exist on disk: a missing index or missing
// metadata is a fatal configuration error, reported distinctly via
// index.ErrIndexNotFound and index.ErrMetadataNotFound.
type Retriever struct {
	embedder *Embedder
	idx      *index.Index
	logger   *slog.Logger
}

// Open loads the index artifacts from indexDir and returns a Retriever.
// If the index was built with a different embedding model than the one the
// embedder is configured with, the results are silently wrong; the recorded
// fingerprint makes that detectable and is logged loudly here.
func Open(embedder *Embedder, indexDir string, logger *slog.Logger) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := index.Load(indexDir)
	if err != nil {
		return nil, err
	}
	if model := idx.Model(); model != "" && model != embedder.Model() {
		logger.Warn("index was built with a different embedding model; results will be unreliable",
			"index_model", model,
			"query_model", embedder.Model(),
		)
	}
	logger.Info("index loaded", "vectors", idx.Len(), "dim", idx.Dim(), "dir", indexDir)
	return &Retriever{embedder: embedder, idx: idx, logger: logger}, nil
}

// Len returns the number of indexed vectors.
func (r *Retriever) Len() int {
	return r.idx.Len()
}

// Search embeds the query and returns up to topK chunks ordered by
// descending similarity. Fewer than topK results are returned when the
// index holds fewer vectors.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.idx.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	chunks := make([]RetrievedChunk, len(hits))
	for i, h := range hits {
		chunks[i] = RetrievedChunk{
			TicketID:  h.TicketID.String(),
			ChunkID:   h.ChunkID,
			Content:   h.Content,
			Project:   h.Project,
			Category:  h.Category,
			Status:    h.Status,
			CreatedAt: h.CreatedAt,
			Score:     h.Score,
		}
	}
	r.logger.Debug("retrieved chunks", "query_len", len(query), "results", len(chunks))
	return chunks, nil
}
