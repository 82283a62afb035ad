package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/opsdesk/ticketrag/internal/chunklog"
)

const defaultBatchSize = 32

// ContentEmbedder turns chunk texts into fixed-dimension normalized vectors.
// Implementations must return one vector per input, in input order.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Builder rebuilds the vector index from the chunk log. Every build is a
// full rebuild: the log is the source of truth and the index is a cache.
type Builder struct {
	embedder  ContentEmbedder
	batchSize int
	saveRaw   bool
	logger    *slog.Logger
}

// NewBuilder creates a Builder. batchSize bounds how many chunk texts are
// embedded per provider call (default 32). saveRaw additionally writes the
// raw embedding matrix next to the index.
func NewBuilder(embedder ContentEmbedder, batchSize int, saveRaw bool, logger *slog.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: embedder, batchSize: batchSize, saveRaw: saveRaw, logger: logger}
}

// Result summarizes an index build.
type Result struct {
	Chunks  int  `json:"chunks"`
	Dim     int  `json:"dim"`
	Skipped bool `json:"skipped"`
}

// Build reads the whole chunk log, embeds every chunk's content in
// order-preserving batches, and writes the index artifacts to indexDir.
// A missing or empty log is not an error: the build is skipped with a
// warning and no files are written.
func (b *Builder) Build(ctx context.Context, logPath, indexDir string) (Result, error) {
	records, err := chunklog.ReadAll(logPath)
	if errors.Is(err, fs.ErrNotExist) {
		b.logger.Warn("chunk log not found, skipping index build", "path", logPath)
		return Result{Skipped: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		b.logger.Warn("chunk log is empty, skipping index build", "path", logPath)
		return Result{Skipped: true}, nil
	}

	b.logger.Info("embedding chunks", "chunks", len(records), "model", b.embedder.Model())

	var x *Index
	for start := 0; start < len(records); start += b.batchSize {
		end := start + b.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Content
		}

		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return Result{}, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return Result{}, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}

		if x == nil {
			x, err = New(b.embedder.Model(), len(vectors[0]))
			if err != nil {
				return Result{}, err
			}
		}
		for i, vec := range vectors {
			if err := x.Add(vec, batch[i]); err != nil {
				return Result{}, fmt.Errorf("indexing chunk %d: %w", start+i, err)
			}
		}
	}

	if err := Write(indexDir, x, b.saveRaw); err != nil {
		return Result{}, err
	}

	b.logger.Info("index built", "vectors", x.Len(), "dim", x.Dim(), "dir", indexDir)
	return Result{Chunks: x.Len(), Dim: x.Dim()}, nil
}
