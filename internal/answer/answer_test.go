package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/opsdesk/ticketrag/internal/engine"
	"github.com/opsdesk/ticketrag/internal/retrieval"
)

type fakeSearcher struct {
	chunks []retrieval.RetrievedChunk
	err    error

	gotQuery string
	gotTopK  int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.RetrievedChunk, error) {
	f.gotQuery = query
	f.gotTopK = topK
	return f.chunks, f.err
}

type fakeGenerator struct {
	engine.Engine

	reply string
	err   error

	gotModel    string
	gotMessages []engine.Message
	gotOpts     *engine.GenOptions
	calls       int
}

func (f *fakeGenerator) Chat(ctx context.Context, model string, messages []engine.Message, opts *engine.GenOptions) (string, error) {
	f.calls++
	f.gotModel = model
	f.gotMessages = messages
	f.gotOpts = opts
	return f.reply, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func someChunks() []retrieval.RetrievedChunk {
	return []retrieval.RetrievedChunk{
		{TicketID: "7341", ChunkID: 12, Content: "Printer offline after firmware update.", Score: 0.91},
		{TicketID: "980", ChunkID: 3, Content: "Replaced the thermal head.", Score: 0.74},
	}
}

func TestAnswer_HappyPath(t *testing.T) {
	searcher := &fakeSearcher{chunks: someChunks()}
	gen := &fakeGenerator{reply: "  Reinstall the firmware and power-cycle the printer.  "}
	svc := NewService(searcher, gen, "qwen2.5:7b", 3, 0, testLogger())

	res, err := svc.Answer(context.Background(), "printer offline")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "Reinstall the firmware and power-cycle the printer." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(res.Sources))
	}
	if searcher.gotQuery != "printer offline" || searcher.gotTopK != 3 {
		t.Errorf("search called with (%q, %d)", searcher.gotQuery, searcher.gotTopK)
	}
	if gen.gotModel != "qwen2.5:7b" {
		t.Errorf("model = %q", gen.gotModel)
	}
	if gen.gotOpts == nil || gen.gotOpts.Temperature != 0.4 || gen.gotOpts.MaxTokens != 200 {
		t.Errorf("options = %+v", gen.gotOpts)
	}
}

func TestAnswer_PromptContainsContextAndQuery(t *testing.T) {
	searcher := &fakeSearcher{chunks: someChunks()}
	gen := &fakeGenerator{reply: "ok"}
	svc := NewService(searcher, gen, "m", 0, 0, testLogger())

	if _, err := svc.Answer(context.Background(), "why is the printer down?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(gen.gotMessages) != 2 {
		t.Fatalf("messages = %d, want 2", len(gen.gotMessages))
	}
	if gen.gotMessages[0].Role != "system" {
		t.Errorf("first role = %q", gen.gotMessages[0].Role)
	}
	if !strings.Contains(gen.gotMessages[0].Content, EvidenceSentinel) {
		t.Error("system prompt missing evidence sentinel")
	}
	user := gen.gotMessages[1].Content
	for _, want := range []string{
		"- [Ticket 7341] Printer offline after firmware update.",
		"- [Ticket 980] Replaced the thermal head.",
		"why is the printer down?",
		"--- RELEVANT TICKETS ---",
		"--- END OF TICKETS ---",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q in:\n%s", want, user)
		}
	}
}

func TestAnswer_NoResultsSkipsGenerator(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be called"}
	svc := NewService(&fakeSearcher{}, gen, "m", 3, 2000, testLogger())

	res, err := svc.Answer(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != NoResultsMessage {
		t.Errorf("answer = %q, want %q", res.Answer, NoResultsMessage)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(res.Sources))
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestAnswer_SearchErrorPropagates(t *testing.T) {
	wantErr := errors.New("index not found")
	svc := NewService(&fakeSearcher{err: wantErr}, &fakeGenerator{}, "m", 3, 2000, testLogger())

	if _, err := svc.Answer(context.Background(), "q"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestAnswer_GeneratorFailureBecomesVisibleText(t *testing.T) {
	searcher := &fakeSearcher{chunks: someChunks()}
	gen := &fakeGenerator{err: errors.New("connection refused")}
	svc := NewService(searcher, gen, "m", 3, 2000, testLogger())

	res, err := svc.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(res.Answer, "Error generating the answer") ||
		!strings.Contains(res.Answer, "connection refused") {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(res.Sources))
	}
}

func TestAnswer_EmptyReply(t *testing.T) {
	svc := NewService(&fakeSearcher{chunks: someChunks()}, &fakeGenerator{reply: "   "}, "m", 3, 2000, testLogger())

	res, err := svc.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "No answer was generated." {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestBuildContext_Format(t *testing.T) {
	got := BuildContext(someChunks(), 2000)
	want := "- [Ticket 7341] Printer offline after firmware update.\n" +
		"- [Ticket 980] Replaced the thermal head."
	if got != want {
		t.Errorf("context = %q, want %q", got, want)
	}
}

func TestBuildContext_Truncation(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		{TicketID: "1", Content: strings.Repeat("a", 500)},
		{TicketID: "2", Content: strings.Repeat("b", 500)},
	}
	got := BuildContext(chunks, 100)
	if len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}
	if !strings.HasPrefix(got, "- [Ticket 1] aaa") {
		t.Errorf("unexpected prefix: %q", got[:20])
	}
}

func TestBuildContext_TruncationKeepsValidUTF8(t *testing.T) {
	content := strings.Repeat("é", 200) // 2 bytes per rune
	for budget := 10; budget <= 13; budget++ {
		got := BuildContext([]retrieval.RetrievedChunk{{TicketID: "1", Content: content}}, budget)
		if !utf8.ValidString(got) {
			t.Errorf("budget %d: invalid UTF-8: %q", budget, got)
		}
		if len(got) > budget {
			t.Errorf("budget %d: len = %d", budget, len(got))
		}
	}
}

func TestBuildContext_TrimsChunkWhitespace(t *testing.T) {
	got := BuildContext([]retrieval.RetrievedChunk{{TicketID: "9", Content: "  padded  "}}, 2000)
	if got != "- [Ticket 9] padded" {
		t.Errorf("context = %q", got)
	}
}

func TestNewService_Defaults(t *testing.T) {
	searcher := &fakeSearcher{chunks: someChunks()}
	svc := NewService(searcher, &fakeGenerator{reply: "ok"}, "m", 0, 0, nil)
	if _, err := svc.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if searcher.gotTopK != DefaultTopK {
		t.Errorf("topK = %d, want %d", searcher.gotTopK, DefaultTopK)
	}
}
