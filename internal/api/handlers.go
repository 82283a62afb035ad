// Package api exposes the pipeline over HTTP (chi router, bearer auth) and
// over MCP for tool-using clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opsdesk/ticketrag/internal/answer"
	"github.com/opsdesk/ticketrag/internal/index"
	"github.com/opsdesk/ticketrag/internal/retrieval"
	"github.com/opsdesk/ticketrag/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer produces a grounded answer for a query.
type Answerer interface {
	Answer(ctx context.Context, query string) (answer.Result, error)
}

// RebuildSummary reports one ingest pass plus the index rebuild behind it.
type RebuildSummary struct {
	RunID          string `json:"run_id"`
	FilesProcessed int    `json:"files_processed"`
	FilesFailed    int    `json:"files_failed"`
	Tickets        int    `json:"tickets"`
	TicketsSkipped int    `json:"tickets_skipped"`
	ChunksWritten  int    `json:"chunks_written"`
	IndexedChunks  int    `json:"indexed_chunks"`
	DurationMs     int64  `json:"duration_ms"`
}

// Rebuilder runs the full ingest-then-rebuild pass.
type Rebuilder interface {
	Rebuild(ctx context.Context) (RebuildSummary, error)
}

// IndexStats reports the size of the loaded index.
type IndexStats interface {
	Len() (int, error)
}

type Deps struct {
	Answerer  Answerer
	Searcher  retrieval.Searcher
	Rebuilder Rebuilder
	Stats     IndexStats
	Store     *storage.Store
	Token     string
	Model     string
	TopK      int // default result count for /search
}

// SourceRef identifies one chunk that grounded an answer.
type SourceRef struct {
	TicketID string  `json:"ticket_id"`
	ChunkID  int     `json:"chunk_id"`
	Score    float32 `json:"score"`
}

// NewHandler returns the HTTP API. /health is open; everything else
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/query", handleQuery(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/index/build", handleIndexBuild(deps))
		r.Get("/status", handleStatus(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	InteractionID string                     `json:"interaction_id"`
	Answer        string                     `json:"answer"`
	Sources       []retrieval.RetrievedChunk `json:"sources"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		res, err := deps.Answerer.Answer(r.Context(), req.Query)
		if err != nil {
			if errors.Is(err, index.ErrIndexNotFound) || errors.Is(err, index.ErrMetadataNotFound) {
				httpError(w, http.StatusConflict, "index_missing", "index not built yet: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}

		id := uuid.New().String()
		if deps.Store != nil {
			if err := deps.Store.SaveInteraction(storage.Interaction{
				ID:        id,
				CreatedAt: time.Now().UTC(),
				Query:     req.Query,
				Answer:    res.Answer,
				Model:     deps.Model,
				TopK:      len(res.Sources),
				Sources:   marshalSources(res.Sources),
			}); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save interaction: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(queryResponse{
			InteractionID: id,
			Answer:        res.Answer,
			Sources:       ensureChunks(res.Sources),
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		topK := parseIntParam(r, "k", deps.TopK, 50)

		chunks, err := deps.Searcher.Search(r.Context(), query, topK)
		if err != nil {
			if errors.Is(err, index.ErrIndexNotFound) || errors.Is(err, index.ErrMetadataNotFound) {
				httpError(w, http.StatusConflict, "index_missing", "index not built yet: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ensureChunks(chunks))
	}
}

func handleIndexBuild(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Rebuilder.Rebuild(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rebuild failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

type statusResponse struct {
	IndexedChunks int                `json:"indexed_chunks"`
	IndexReady    bool               `json:"index_ready"`
	LastRun       *storage.IngestRun `json:"last_run,omitempty"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statusResponse

		if n, err := deps.Stats.Len(); err == nil {
			resp.IndexedChunks = n
			resp.IndexReady = true
		}

		if deps.Store != nil {
			run, err := deps.Store.LastIngestRun()
			if err == nil {
				resp.LastRun = &run
			} else if !errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read last run: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.RecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(interaction)
	}
}

// marshalSources renders the chunks backing an answer as the compact JSON
// stored alongside the interaction.
func marshalSources(chunks []retrieval.RetrievedChunk) string {
	refs := make([]SourceRef, len(chunks))
	for i, c := range chunks {
		refs[i] = SourceRef{TicketID: c.TicketID, ChunkID: c.ChunkID, Score: c.Score}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func ensureChunks(chunks []retrieval.RetrievedChunk) []retrieval.RetrievedChunk {
	if chunks == nil {
		return []retrieval.RetrievedChunk{}
	}
	return chunks
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
