package domain

import (
	"fmt"
	"time"
)

// Classification controls whether a source's content may appear, verbatim or
// cited, in a user-visible answer.
type Classification string

const (
	// ClassificationCitable content may be quoted and cited in answers.
	ClassificationCitable Classification = "citable"
	// ClassificationPrivate content may only inform reasoning and must never
	// surface in an answer.
	ClassificationPrivate Classification = "private"
)

// IsValid reports whether c is a known classification.
func (c Classification) IsValid() bool {
	return c == ClassificationCitable || c == ClassificationPrivate
}

// Source is an ingested document whose chunks share one classification.
// Reclassifying a source re-tags all of its derived chunks.
type Source struct {
	ID             string
	OrgID          string
	ChatbotID      string
	Name           string
	Classification Classification
	// Priority weights tie-breaking during retrieval ranking. Higher wins.
	Priority  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateSource validates a Source instance
func ValidateSource(s *Source) error {
	if s == nil {
		return fmt.Errorf("source cannot be nil")
	}
	if s.ID == "" {
		return fmt.Errorf("source ID is required")
	}
	if s.OrgID == "" {
		return fmt.Errorf("source OrgID is required")
	}
	if s.ChatbotID == "" {
		return fmt.Errorf("source ChatbotID is required")
	}
	if !s.Classification.IsValid() {
		return ErrInvalidClassification
	}
	return nil
}

// KnowledgeChunk is one embedded span of a source. The Citable flag mirrors
// the owning source's classification at all times; it is never set directly
// on a chunk.
type KnowledgeChunk struct {
	ID         string
	SourceID   string
	OrgID      string
	ChatbotID  string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Citable    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateKnowledgeChunk validates a KnowledgeChunk instance
func ValidateKnowledgeChunk(c *KnowledgeChunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.SourceID == "" {
		return fmt.Errorf("chunk SourceID is required")
	}
	if c.OrgID == "" {
		return fmt.Errorf("chunk OrgID is required")
	}
	if c.ChatbotID == "" {
		return fmt.Errorf("chunk ChatbotID is required")
	}
	if c.Content == "" {
		return fmt.Errorf("chunk Content is required")
	}
	return nil
}

// RetrievedPassage is a chunk reference returned by the vector index. The
// Citable flag is carried forward unchanged from the chunk.
type RetrievedPassage struct {
	ChunkID   string
	SourceID  string
	Content   string
	Score     float64
	Citable   bool
	Priority  float64
	CreatedAt time.Time
}
