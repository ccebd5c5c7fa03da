package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// MemorySearcher is an exact in-memory backend for tests and local
// development. Same scoping and mode semantics as the pgvector backends.
type MemorySearcher struct {
	mu     sync.RWMutex
	chunks []domain.KnowledgeChunk
	// priority per source id, mirroring the sources table join.
	priorities map[string]float64
}

func NewMemorySearcher() *MemorySearcher {
	return &MemorySearcher{priorities: make(map[string]float64)}
}

// Add registers a chunk. priority is the owning source's weight.
func (s *MemorySearcher) Add(chunk domain.KnowledgeChunk, priority float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	s.priorities[chunk.SourceID] = priority
}

// Retag flips the citable flag on every chunk of a source, mirroring a
// source reclassification.
func (s *MemorySearcher) Retag(sourceID string, citable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chunks {
		if s.chunks[i].SourceID == sourceID {
			s.chunks[i].Citable = citable
		}
	}
}

func (s *MemorySearcher) Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode Mode) ([]domain.RetrievedPassage, error) {
	if err := validateSearch(orgID, chatbotID, mode); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 8
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	passages := make([]domain.RetrievedPassage, 0)
	for _, c := range s.chunks {
		if c.OrgID != orgID || c.ChatbotID != chatbotID {
			continue
		}
		if mode == ModeCitation && !c.Citable {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		passages = append(passages, domain.RetrievedPassage{
			ChunkID:   c.ID,
			SourceID:  c.SourceID,
			Content:   c.Content,
			Score:     cosineScore(query, c.Embedding),
			Citable:   c.Citable,
			Priority:  s.priorities[c.SourceID],
			CreatedAt: c.CreatedAt,
		})
	}

	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		if !passages[i].CreatedAt.Equal(passages[j].CreatedAt) {
			return passages[i].CreatedAt.After(passages[j].CreatedAt)
		}
		return passages[i].Priority > passages[j].Priority
	})

	if len(passages) > k {
		passages = passages[:k]
	}
	return passages, nil
}

// cosineScore matches the SQL scoring: 1 / (1 + cosine distance).
func cosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	distance := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	return 1.0 / (1.0 + distance)
}
