package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsdesk/ticketrag/internal/answer"
	"github.com/opsdesk/ticketrag/internal/index"
	"github.com/opsdesk/ticketrag/internal/retrieval"
	"github.com/opsdesk/ticketrag/internal/storage"
)

// --- fakes ---

type fakeAnswerer struct {
	res answer.Result
	err error
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string) (answer.Result, error) {
	return f.res, f.err
}

type fakeSearcher struct {
	chunks []retrieval.RetrievedChunk
	err    error

	gotQuery string
	gotTopK  int
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int) ([]retrieval.RetrievedChunk, error) {
	f.gotQuery = query
	f.gotTopK = topK
	return f.chunks, f.err
}

type fakeRebuilder struct {
	summary RebuildSummary
	err     error
	calls   int
}

func (f *fakeRebuilder) Rebuild(_ context.Context) (RebuildSummary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeStats struct {
	n   int
	err error
}

func (f *fakeStats) Len() (int, error) { return f.n, f.err }

// --- helpers ---

const testToken = "test-token"

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Answerer:  &fakeAnswerer{},
		Searcher:  &fakeSearcher{},
		Rebuilder: &fakeRebuilder{},
		Stats:     &fakeStats{},
		Store:     store,
		Token:     testToken,
		Model:     "qwen2.5:7b",
		TopK:      5,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func resultChunks() []retrieval.RetrievedChunk {
	return []retrieval.RetrievedChunk{
		{TicketID: "7341", ChunkID: 12, Content: "printer offline", Score: 0.91},
		{TicketID: "980", ChunkID: 3, Content: "thermal head", Score: 0.74},
	}
}

// --- tests ---

func TestHealth_NoAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuth_MissingOrWrongToken(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	for _, header := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestQuery_AnswersAndPersists(t *testing.T) {
	deps := newTestDeps(t)
	deps.Answerer = &fakeAnswerer{res: answer.Result{
		Answer:  "Power-cycle the printer.",
		Sources: resultChunks(),
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/query", `{"query":"printer offline"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "Power-cycle the printer." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources = %d", len(resp.Sources))
	}
	if resp.InteractionID == "" {
		t.Error("missing interaction id")
	}

	saved, err := deps.Store.GetInteraction(resp.InteractionID)
	if err != nil {
		t.Fatalf("interaction not persisted: %v", err)
	}
	if saved.Query != "printer offline" || saved.Answer != resp.Answer {
		t.Errorf("saved = %+v", saved)
	}
	var refs []SourceRef
	if err := json.Unmarshal([]byte(saved.Sources), &refs); err != nil {
		t.Fatalf("sources JSON invalid: %v", err)
	}
	if len(refs) != 2 || refs[0].TicketID != "7341" {
		t.Errorf("source refs = %+v", refs)
	}
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	rec := doRequest(t, h, http.MethodPost, "/query", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_MissingIndexIsConflict(t *testing.T) {
	deps := newTestDeps(t)
	deps.Answerer = &fakeAnswerer{err: index.ErrIndexNotFound}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/query", `{"query":"q"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	deps := newTestDeps(t)
	searcher := &fakeSearcher{chunks: resultChunks()}
	deps.Searcher = searcher
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/search?q=printer&k=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if searcher.gotQuery != "printer" || searcher.gotTopK != 2 {
		t.Errorf("search called with (%q, %d)", searcher.gotQuery, searcher.gotTopK)
	}

	var chunks []retrieval.RetrievedChunk
	if err := json.Unmarshal(rec.Body.Bytes(), &chunks); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("chunks = %d", len(chunks))
	}
}

func TestSearch_DefaultsAndValidation(t *testing.T) {
	deps := newTestDeps(t)
	searcher := &fakeSearcher{}
	deps.Searcher = searcher
	h := NewHandler(deps)

	if rec := doRequest(t, h, http.MethodGet, "/search", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}

	if rec := doRequest(t, h, http.MethodGet, "/search?q=x", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if searcher.gotTopK != 5 {
		t.Errorf("default k = %d, want 5", searcher.gotTopK)
	}

	doRequest(t, h, http.MethodGet, "/search?q=x&k=500", "")
	if searcher.gotTopK != 50 {
		t.Errorf("clamped k = %d, want 50", searcher.gotTopK)
	}

	// Empty result set renders as [] rather than null.
	rec := doRequest(t, h, http.MethodGet, "/search?q=x", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty results body = %s", rec.Body.String())
	}
}

func TestIndexBuild(t *testing.T) {
	deps := newTestDeps(t)
	rebuilder := &fakeRebuilder{summary: RebuildSummary{
		RunID:         "run-1",
		Tickets:       40,
		ChunksWritten: 55,
		IndexedChunks: 55,
	}}
	deps.Rebuilder = rebuilder
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/index/build", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rebuilder.calls != 1 {
		t.Errorf("rebuild called %d times", rebuilder.calls)
	}

	var got RebuildSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got != rebuilder.summary {
		t.Errorf("summary = %+v", got)
	}
}

func TestIndexBuild_Error(t *testing.T) {
	deps := newTestDeps(t)
	deps.Rebuilder = &fakeRebuilder{err: errors.New("engine down")}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/index/build", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	deps := newTestDeps(t)
	deps.Stats = &fakeStats{n: 128}
	run := storage.IngestRun{
		ID:        "run-9",
		StartedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	run.FinishedAt = run.StartedAt.Add(time.Minute)
	if err := deps.Store.SaveIngestRun(run); err != nil {
		t.Fatalf("SaveIngestRun: %v", err)
	}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !resp.IndexReady || resp.IndexedChunks != 128 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.LastRun == nil || resp.LastRun.ID != "run-9" {
		t.Errorf("last run = %+v", resp.LastRun)
	}
}

func TestStatus_IndexMissing(t *testing.T) {
	deps := newTestDeps(t)
	deps.Stats = &fakeStats{err: index.ErrIndexNotFound}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.IndexReady {
		t.Error("index should not be ready")
	}
	if resp.LastRun != nil {
		t.Errorf("last run = %+v, want nil", resp.LastRun)
	}
}

func TestInteractions_ListAndGet(t *testing.T) {
	deps := newTestDeps(t)
	in := storage.Interaction{
		ID:        "int-1",
		CreatedAt: time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
		Query:     "q",
		Answer:    "a",
		Sources:   "[]",
	}
	if err := deps.Store.SaveInteraction(in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/interactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []storage.Interaction
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "int-1" {
		t.Errorf("list = %+v", list)
	}

	rec = doRequest(t, h, http.MethodGet, "/interactions/int-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/interactions/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}
