// Package retrieval embeds queries and searches the vector index for the
// chunks most relevant to them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/ticketrag/internal/engine"
)

// Embedder wraps an Engine to produce L2-normalized embedding vectors.
// Normalization makes inner product equal to cosine similarity, which the
// index relies on. The same Embedder (same model) must be used for indexing
// and for queries.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model name, used as the index fingerprint.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the normalized embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch returns normalized vectors for multiple texts. Requests run
// concurrently but results keep input order, so embeddings stay positionally
// aligned with the texts they came from. Returns nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			if err := normalize(vec); err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalize scales v to unit L2 norm in place.
func normalize(v []float32) error {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return errors.New("zero-norm embedding")
	}
	scale := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= scale
	}
	return nil
}
