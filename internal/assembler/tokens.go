package assembler

import (
	"log"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides exact token accounting for budget enforcement.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the model's real BPE vocabulary.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates four characters per token. Used when the
// tiktoken vocabulary for a model cannot be loaded.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return n/4 + 1
}

// NewTokenCounter returns a tiktoken counter for model, falling back to the
// heuristic when the encoding is unavailable (e.g. offline vocabulary fetch).
func NewTokenCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		log.Printf("assembler: no tiktoken encoding for model %q, using heuristic: %v", model, err)
		return HeuristicCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// SplitSentences breaks text at sentence boundaries. Truncation only ever
// happens at these boundaries.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t')
			if atEnd || followedBySpace {
				s := strings.TrimSpace(b.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				b.Reset()
			}
		}
	}

	if rest := strings.TrimSpace(b.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
