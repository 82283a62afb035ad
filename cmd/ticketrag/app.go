package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk/ticketrag/internal/answer"
	"github.com/opsdesk/ticketrag/internal/api"
	"github.com/opsdesk/ticketrag/internal/config"
	"github.com/opsdesk/ticketrag/internal/engine"
	"github.com/opsdesk/ticketrag/internal/index"
	"github.com/opsdesk/ticketrag/internal/ingest"
	"github.com/opsdesk/ticketrag/internal/retrieval"
	"github.com/opsdesk/ticketrag/internal/storage"
)

// app wires the pipeline components for one invocation. CLI commands and
// the server share the same wiring; the only difference is whether the
// bookkeeping store is opened.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	engine   *engine.Ollama
	embedder *retrieval.Embedder
	handle   *retrieval.Handle
	answerer *answer.Service
	store    *storage.Store
	rebuild  *rebuilder
}

func newApp(withStore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	eng := engine.NewOllama(cfg.Ollama.BaseURL)
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)

	handle := retrieval.NewHandle(func() (*retrieval.Retriever, error) {
		return retrieval.Open(embedder, cfg.Data.IndexDir, logger)
	})

	answerer := answer.NewService(
		handle, eng, cfg.Ollama.GenerationModel,
		cfg.Retrieval.AnswerTopK, cfg.Retrieval.MaxContextChars, logger,
	)

	pipeline, err := ingest.NewPipeline(ingest.Options{
		RawDir:       cfg.Data.RawDir,
		ProcessedDir: cfg.Data.ProcessedDir,
		LogPath:      cfg.Data.ChunkLogPath,
		MaxWords:     cfg.Chunking.MaxWords,
		Overlap:      cfg.Chunking.Overlap,
		IncludeNotes: cfg.Chunking.IncludeNotes,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring ingest: %w", err)
	}

	builder := index.NewBuilder(embedder, cfg.Retrieval.BatchSize, cfg.Retrieval.SaveRawVectors, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		embedder: embedder,
		handle:   handle,
		answerer: answerer,
	}

	if withStore {
		store, err := storage.Open(cfg.Data.StateDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
	}

	a.rebuild = &rebuilder{
		pipeline:  pipeline,
		builder:   builder,
		logPath:   cfg.Data.ChunkLogPath,
		indexDir:  cfg.Data.IndexDir,
		store:     a.store,
		onRebuilt: handle.Reset,
		logger:    logger,
	}

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}
}

// ensureEngineReady verifies Ollama is reachable and the given models are
// pulled before a command that needs them starts.
func (a *app) ensureEngineReady(ctx context.Context, models ...string) error {
	if !a.engine.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s (is it running?)", a.cfg.Ollama.BaseURL)
	}
	for _, m := range models {
		if !a.engine.HasModel(ctx, m) {
			return fmt.Errorf("model %q is not available, run: ollama pull %s", m, m)
		}
	}
	return nil
}

// saveInteraction records an answered query when the store is open.
func (a *app) saveInteraction(query string, res answer.Result) string {
	if a.store == nil {
		return ""
	}
	id := uuid.New().String()
	err := a.store.SaveInteraction(storage.Interaction{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Query:     query,
		Answer:    res.Answer,
		Model:     a.cfg.Ollama.GenerationModel,
		TopK:      len(res.Sources),
		Sources:   marshalSourceRefs(res.Sources),
	})
	if err != nil {
		a.logger.Warn("failed to save interaction", "error", err)
		return ""
	}
	return id
}

// rebuilder runs the full pass: ingest new exports into the chunk log, then
// rebuild the index from it. It satisfies api.Rebuilder so the HTTP and MCP
// surfaces trigger the exact same flow as `ticketrag build`.
type rebuilder struct {
	pipeline  *ingest.Pipeline
	builder   *index.Builder
	logPath   string
	indexDir  string
	store     *storage.Store
	onRebuilt func()
	logger    *slog.Logger
}

var _ api.Rebuilder = (*rebuilder)(nil)

func (rb *rebuilder) Rebuild(ctx context.Context) (api.RebuildSummary, error) {
	started := time.Now().UTC()
	runID := uuid.New().String()

	report, err := rb.pipeline.Run(ctx)
	if err != nil {
		rb.recordRun(runID, started, report, index.Result{}, err)
		return api.RebuildSummary{}, fmt.Errorf("ingest: %w", err)
	}

	result, err := rb.builder.Build(ctx, rb.logPath, rb.indexDir)
	if err != nil {
		rb.recordRun(runID, started, report, result, err)
		return api.RebuildSummary{}, fmt.Errorf("building index: %w", err)
	}

	if rb.onRebuilt != nil {
		rb.onRebuilt()
	}
	rb.recordRun(runID, started, report, result, nil)

	return api.RebuildSummary{
		RunID:          runID,
		FilesProcessed: report.FilesProcessed,
		FilesFailed:    report.FilesFailed,
		Tickets:        report.Tickets,
		TicketsSkipped: report.TicketsSkipped,
		ChunksWritten:  report.ChunksWritten,
		IndexedChunks:  result.Chunks,
		DurationMs:     time.Since(started).Milliseconds(),
	}, nil
}

func (rb *rebuilder) recordRun(runID string, started time.Time, report ingest.Report, result index.Result, runErr error) {
	if rb.store == nil {
		return
	}
	run := storage.IngestRun{
		ID:             runID,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		FilesProcessed: report.FilesProcessed,
		FilesFailed:    report.FilesFailed,
		Tickets:        report.Tickets,
		TicketsSkipped: report.TicketsSkipped,
		ChunksWritten:  report.ChunksWritten,
		IndexedChunks:  result.Chunks,
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	}
	if err := rb.store.SaveIngestRun(run); err != nil {
		rb.logger.Warn("failed to record ingest run", "error", err)
	}
}

func marshalSourceRefs(chunks []retrieval.RetrievedChunk) string {
	refs := make([]api.SourceRef, len(chunks))
	for i, c := range chunks {
		refs[i] = api.SourceRef{TicketID: c.TicketID, ChunkID: c.ChunkID, Score: c.Score}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(b)
}
