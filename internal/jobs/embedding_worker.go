package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/embedding"
)

const (
	// EmbeddingBatchSize caps how many chunks one poll cycle embeds
	EmbeddingBatchSize = 32
)

// ChunkStore defines the persistence interface for chunk embedding backfill
type ChunkStore interface {
	// ListMissingEmbeddings returns chunks whose embedding column is still NULL
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.KnowledgeChunk, error)

	// UpdateEmbedding stores the computed vector for a chunk
	UpdateEmbedding(ctx context.Context, orgID, chunkID string, embedding []float32) error
}

// ChunkEmbedder defines the interface for generating chunk embeddings
type ChunkEmbedder interface {
	Embed(ctx context.Context, orgID string, items []embedding.Item) ([]embedding.Result, error)
}

// RetrievalInvalidator drops cached retrieval results for a chatbot
type RetrievalInvalidator interface {
	Invalidate(chatbotID string)
}

// EmbeddingWorker backfills embeddings for chunks ingested without one
type EmbeddingWorker struct {
	store    ChunkStore
	embedder ChunkEmbedder
	cache    RetrievalInvalidator
}

// NewEmbeddingWorker creates a new EmbeddingWorker instance
func NewEmbeddingWorker(store ChunkStore, embedder ChunkEmbedder, cache RetrievalInvalidator) *EmbeddingWorker {
	return &EmbeddingWorker{
		store:    store,
		embedder: embedder,
		cache:    cache,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *EmbeddingWorker) ProcessJobs(ctx context.Context) error {
	chunks, err := w.store.ListMissingEmbeddings(ctx, EmbeddingBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list chunks missing embeddings: %w", err)
	}

	if len(chunks) == 0 {
		return nil
	}

	log.Printf("Embedding %d pending chunks", len(chunks))

	// Group by org so each batch goes through that tenant's cost accounting
	byOrg := make(map[string][]*domain.KnowledgeChunk)
	for _, chunk := range chunks {
		byOrg[chunk.OrgID] = append(byOrg[chunk.OrgID], chunk)
	}

	touched := make(map[string]struct{})
	for orgID, group := range byOrg {
		if err := w.processOrg(ctx, orgID, group, touched); err != nil {
			log.Printf("Error embedding chunks for org %s: %v", orgID, err)
		}
	}

	// Newly embedded chunks change retrieval results, so drop stale caches
	for chatbotID := range touched {
		w.cache.Invalidate(chatbotID)
	}

	return nil
}

func (w *EmbeddingWorker) processOrg(ctx context.Context, orgID string, chunks []*domain.KnowledgeChunk, touched map[string]struct{}) error {
	items := make([]embedding.Item, len(chunks))
	for i, chunk := range chunks {
		items[i] = embedding.Item{Text: chunk.Content, Citable: chunk.Citable}
	}

	results, err := w.embedder.Embed(ctx, orgID, items)
	if err != nil {
		return fmt.Errorf("embedding batch failed: %w", err)
	}

	for i, chunk := range chunks {
		if err := w.store.UpdateEmbedding(ctx, chunk.OrgID, chunk.ID, results[i].Vector); err != nil {
			log.Printf("Error storing embedding for chunk %s: %v", chunk.ID, err)
			continue
		}
		touched[chunk.ChatbotID] = struct{}{}
	}

	return nil
}
