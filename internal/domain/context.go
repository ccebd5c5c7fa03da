package domain

// ProvenanceEntry maps an included context span back to its source. Citation
// markers in answers reference entries by Index.
type ProvenanceEntry struct {
	Index    int
	ChunkID  string
	SourceID string
	Citable  bool
	// Text is the span actually included in the context (possibly truncated
	// at a sentence boundary), kept for the output-side overlap check.
	Text string
}

// AssembledContext holds the two token-bounded context blocks handed to
// generation. Citable and private text are never merged; the blocks are the
// recoverable boundary.
type AssembledContext struct {
	CitableBlock  string
	PrivateBlock  string
	CitableTokens int
	PrivateTokens int
	Provenance    []ProvenanceEntry
	// PrivateOnly is set when only private passages fit within budget. The
	// generation service and privacy sentinel treat such contexts more
	// conservatively: no quotable claims at all.
	PrivateOnly bool
}

// Empty reports whether no passage made it into either block.
func (c *AssembledContext) Empty() bool {
	return c.CitableBlock == "" && c.PrivateBlock == ""
}

// CitableProvenance returns the provenance entries eligible for citation.
func (c *AssembledContext) CitableProvenance() []ProvenanceEntry {
	out := make([]ProvenanceEntry, 0, len(c.Provenance))
	for _, p := range c.Provenance {
		if p.Citable {
			out = append(out, p)
		}
	}
	return out
}

// PrivateProvenance returns the provenance entries that must never surface.
func (c *AssembledContext) PrivateProvenance() []ProvenanceEntry {
	out := make([]ProvenanceEntry, 0, len(c.Provenance))
	for _, p := range c.Provenance {
		if !p.Citable {
			out = append(out, p)
		}
	}
	return out
}

// LookupProvenance resolves a citation marker index, or nil.
func (c *AssembledContext) LookupProvenance(index int) *ProvenanceEntry {
	for i := range c.Provenance {
		if c.Provenance[i].Index == index {
			return &c.Provenance[i]
		}
	}
	return nil
}
