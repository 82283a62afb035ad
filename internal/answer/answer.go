// Package answer turns retrieved ticket chunks into a bounded context window
// and a grounded prompt, and converts the generator's reply (or failure)
// into text the caller can always show to a user.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/opsdesk/ticketrag/internal/engine"
	"github.com/opsdesk/ticketrag/internal/retrieval"
)

const (
	// DefaultTopK is how many chunks ground an answer.
	DefaultTopK = 3
	// DefaultMaxContextChars bounds the joined context string. Truncation
	// may cut mid-line; a simplicity/latency tradeoff, not a semantic one.
	DefaultMaxContextChars = 2000

	// NoResultsMessage is returned without invoking the generator when
	// retrieval comes back empty.
	NoResultsMessage = "No relevant ticket documents were found."

	// EvidenceSentinel is the fixed phrase the generator is instructed to
	// emit when the tickets don't contain enough information.
	EvidenceSentinel = "Not enough evidence was found."
)

const systemPrompt = "You are a technical support expert for a casino operations team. " +
	"Answer the user's question exclusively using the information in the tickets provided below. " +
	"The answer must be built from information contained in those tickets. " +
	"If the tickets do not hold all the information needed, reply: '" + EvidenceSentinel + "'. " +
	"Do not invent information or use knowledge from outside the tickets, " +
	"but always try to give an answer grounded in them."

// Service answers queries by retrieving chunks and prompting the generator.
type Service struct {
	searcher        retrieval.Searcher
	engine          engine.Engine
	model           string
	topK            int
	maxContextChars int
	logger          *slog.Logger
}

// NewService wires the answer flow. topK and maxContextChars fall back to
// the package defaults when non-positive.
func NewService(searcher retrieval.Searcher, eng engine.Engine, model string, topK, maxContextChars int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher:        searcher,
		engine:          eng,
		model:           model,
		topK:            topK,
		maxContextChars: maxContextChars,
		logger:          logger,
	}
}

// Result is one answered query with the chunks that grounded it.
type Result struct {
	Answer  string                     `json:"answer"`
	Sources []retrieval.RetrievedChunk `json:"sources"`
}

// Answer runs retrieve → assemble → generate. Retrieval configuration
// errors (missing index) propagate; generator failures are converted into
// a user-visible error string so the serving path always returns some text.
func (s *Service) Answer(ctx context.Context, query string) (Result, error) {
	chunks, err := s.searcher.Search(ctx, query, s.topK)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{Answer: NoResultsMessage}, nil
	}

	messages := buildMessages(query, BuildContext(chunks, s.maxContextChars))

	reply, err := s.engine.Chat(ctx, s.model, messages, &engine.GenOptions{
		Temperature:   0.4,
		TopP:          0.9,
		RepeatPenalty: 1.1,
		MaxTokens:     200,
	})
	if err != nil {
		s.logger.Warn("generation failed", "error", err)
		return Result{
			Answer:  fmt.Sprintf("Error generating the answer: %v", err),
			Sources: chunks,
		}, nil
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "No answer was generated."
	}
	return Result{Answer: reply, Sources: chunks}, nil
}

// BuildContext renders chunks as one line each and truncates the joined
// string to maxChars. The cut backs off to a rune boundary so the context
// never ends in a broken UTF-8 sequence.
func BuildContext(chunks []retrieval.RetrievedChunk, maxChars int) string {
	lines := make([]string, len(chunks))
	for i, c := range chunks {
		lines[i] = fmt.Sprintf("- [Ticket %s] %s", c.TicketID, strings.TrimSpace(c.Content))
	}
	joined := strings.Join(lines, "\n")
	if len(joined) <= maxChars {
		return joined
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(joined[cut]) {
		cut--
	}
	return joined[:cut]
}

func buildMessages(query, context string) []engine.Message {
	user := fmt.Sprintf(
		"--- RELEVANT TICKETS ---\n%s\n--- END OF TICKETS ---\n\n"+
			"USER QUESTION:\n%s\n\n"+
			"Answer only by citing information from the tickets. "+
			"If something is not explicitly mentioned, do not include it.",
		context, query,
	)
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}
