// Package chunker splits canonical ticket text into overlapping fixed-size
// word windows, the atomic unit of retrieval.
package chunker

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxWords is the window size in whitespace-delimited words.
	DefaultMaxWords = 300
	// DefaultOverlap is how many words consecutive windows share.
	DefaultOverlap = 50
)

// Span is one chunk of text with its word offsets into the source text.
// EndWord is exclusive.
type Span struct {
	Content   string
	StartWord int
	EndWord   int
}

// ValidateConfig rejects window settings under which the chunker could not
// advance. overlap must be smaller than maxWords.
func ValidateConfig(maxWords, overlap int) error {
	if maxWords <= 0 {
		return fmt.Errorf("max words must be positive, got %d", maxWords)
	}
	if overlap < 0 || overlap >= maxWords {
		return fmt.Errorf("overlap %d must be in [0, %d)", overlap, maxWords)
	}
	return nil
}

// Chunk splits text into overlapping word windows. Windows start at word 0
// and advance by maxWords-overlap; the last window may be shorter. Empty
// text yields nil.
func Chunk(text string, maxWords, overlap int) ([]Span, error) {
	if err := ValidateConfig(maxWords, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	total := len(words)
	if total == 0 {
		return nil, nil
	}

	var spans []Span
	step := maxWords - overlap
	for start := 0; start < total; start += step {
		end := start + maxWords
		if end > total {
			end = total
		}
		spans = append(spans, Span{
			Content:   strings.Join(words[start:end], " "),
			StartWord: start,
			EndWord:   end,
		})
	}
	return spans, nil
}
