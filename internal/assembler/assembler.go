// Package assembler packs ranked passages into a token-bounded,
// provenance-tagged context with citable and private text kept separate.
package assembler

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// Config holds the assembly budgets. CitableRatio is the share of the total
// budget reserved for the citable block; the skew deliberately favors
// citable content.
type Config struct {
	TotalBudget  int
	CitableRatio float64
}

func (c Config) withDefaults() Config {
	if c.TotalBudget <= 0 {
		c.TotalBudget = 3000
	}
	if c.CitableRatio <= 0 || c.CitableRatio > 1 {
		c.CitableRatio = 0.7
	}
	return c
}

// Assembler greedily packs retrieved passages into two independent token
// budgets using exact token accounting.
type Assembler struct {
	counter TokenCounter
	cfg     Config
}

func New(counter TokenCounter, cfg Config) *Assembler {
	return &Assembler{counter: counter, cfg: cfg.withDefaults()}
}

// Assemble walks passages in rank order and fills each block until its
// budget is exhausted. Passages that do not fit whole are truncated at
// sentence boundaries; a passage whose first sentence does not fit is
// skipped. Every included span gets a provenance entry carrying its source
// id and citable flag, whether or not a marker appears in the prompt text.
func (a *Assembler) Assemble(passages []domain.RetrievedPassage) *domain.AssembledContext {
	citableBudget := int(float64(a.cfg.TotalBudget) * a.cfg.CitableRatio)
	privateBudget := a.cfg.TotalBudget - citableBudget

	ctx := &domain.AssembledContext{}
	var citableParts, privateParts []string
	nextIndex := 1

	for _, p := range passages {
		var remaining int
		if p.Citable {
			remaining = citableBudget - ctx.CitableTokens
		} else {
			remaining = privateBudget - ctx.PrivateTokens
		}
		if remaining <= 0 {
			continue
		}

		text, tokens := a.fit(p.Content, remaining, p.Citable, nextIndex)
		if text == "" {
			continue
		}

		entry := domain.ProvenanceEntry{
			Index:    nextIndex,
			ChunkID:  p.ChunkID,
			SourceID: p.SourceID,
			Citable:  p.Citable,
			Text:     strippedSpan(text, p.Citable, nextIndex),
		}
		ctx.Provenance = append(ctx.Provenance, entry)
		nextIndex++

		if p.Citable {
			citableParts = append(citableParts, text)
			ctx.CitableTokens += tokens
		} else {
			privateParts = append(privateParts, text)
			ctx.PrivateTokens += tokens
		}
	}

	ctx.CitableBlock = strings.Join(citableParts, "\n\n")
	ctx.PrivateBlock = strings.Join(privateParts, "\n\n")
	ctx.PrivateOnly = ctx.CitableBlock == "" && ctx.PrivateBlock != ""
	return ctx
}

// fit returns the largest sentence-aligned prefix of content that fits in
// budget tokens, rendered for its block. Citable spans carry a [n] marker
// the model can cite; private spans never do.
func (a *Assembler) fit(content string, budget int, citable bool, index int) (string, int) {
	render := func(body string) string {
		if citable {
			return fmt.Sprintf("[%d] %s", index, body)
		}
		return body
	}

	whole := render(content)
	if tokens := a.counter.Count(whole); tokens <= budget {
		return whole, tokens
	}

	sentences := SplitSentences(content)
	var kept []string
	for _, s := range sentences {
		candidate := render(strings.Join(append(kept, s), " "))
		if a.counter.Count(candidate) > budget {
			break
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return "", 0
	}

	text := render(strings.Join(kept, " "))
	return text, a.counter.Count(text)
}

// strippedSpan records the span without its citation marker so the privacy
// sentinel compares against the text the model actually saw as content.
func strippedSpan(text string, citable bool, index int) string {
	if !citable {
		return text
	}
	return strings.TrimPrefix(text, fmt.Sprintf("[%d] ", index))
}
