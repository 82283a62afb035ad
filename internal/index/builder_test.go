package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsdesk/ticketrag/internal/chunklog"
)

// fakeEmbedder hashes each text into a deterministic normalized vector and
// records batch sizes for assertions.
type fakeEmbedder struct {
	dim     int
	batches []int
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dim)
		var norm float64
		for j := range v {
			h := float32(len(text)*(j+1)%7 + 1)
			if strings.Contains(text, fmt.Sprintf("%d", j)) {
				h += 3
			}
			v[j] = h
			norm += float64(h) * float64(h)
		}
		scale := float32(1 / math.Sqrt(norm))
		for j := range v {
			v[j] *= scale
		}
		out[i] = v
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestLog(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.jsonl")
	records := make([]chunklog.Record, n)
	for i := range records {
		records[i] = chunklog.Record{
			TicketID: testID(t, fmt.Sprintf("%d", i)),
			ChunkID:  0,
			Content:  fmt.Sprintf("ticket body %d", i),
			EndWord:  3,
		}
	}
	if err := chunklog.Append(path, records); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return path
}

func TestBuild_FullRebuild(t *testing.T) {
	logPath := writeTestLog(t, 10)
	indexDir := t.TempDir()
	emb := &fakeEmbedder{dim: 8}

	b := NewBuilder(emb, 4, true, discardLogger())
	res, err := b.Build(context.Background(), logPath, indexDir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Skipped {
		t.Fatal("build skipped unexpectedly")
	}
	if res.Chunks != 10 || res.Dim != 8 {
		t.Errorf("result = %+v, want 10 chunks of dim 8", res)
	}
	// 10 records at batch size 4: batches of 4, 4, 2, in order.
	if len(emb.batches) != 3 || emb.batches[0] != 4 || emb.batches[2] != 2 {
		t.Errorf("batches = %v, want [4 4 2]", emb.batches)
	}

	x, err := Load(indexDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if x.Len() != 10 {
		t.Errorf("loaded %d vectors, want 10", x.Len())
	}
	if x.Model() != "fake-embed" {
		t.Errorf("model = %q, want %q", x.Model(), "fake-embed")
	}

	// Metadata stays positionally aligned: querying with a chunk's own
	// embedding returns that chunk first.
	vecs, err := emb.EmbedBatch(context.Background(), []string{"ticket body 7"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	hits, err := x.Search(vecs[0], 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Content != "ticket body 7" {
		t.Errorf("top hit = %q, want the queried chunk", hits[0].Content)
	}
}

func TestBuild_MissingLogSkips(t *testing.T) {
	b := NewBuilder(&fakeEmbedder{dim: 4}, 0, false, discardLogger())
	indexDir := t.TempDir()

	res, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"), indexDir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Skipped {
		t.Error("expected skipped result for missing log")
	}
	if _, err := os.Stat(filepath.Join(indexDir, IndexFileName)); !os.IsNotExist(err) {
		t.Error("skipped build must not write index files")
	}
}

func TestBuild_EmptyLogSkips(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tickets.jsonl")
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatalf("writing empty log: %v", err)
	}
	indexDir := t.TempDir()

	b := NewBuilder(&fakeEmbedder{dim: 4}, 0, false, discardLogger())
	res, err := b.Build(context.Background(), logPath, indexDir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Skipped {
		t.Error("expected skipped result for empty log")
	}
	if _, err := os.Stat(filepath.Join(indexDir, IndexFileName)); !os.IsNotExist(err) {
		t.Error("skipped build must not write index files")
	}
}
