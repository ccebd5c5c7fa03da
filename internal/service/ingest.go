package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/telemetry"
)

// SourceRepositoryInterface defines the repository interface for source persistence
type SourceRepositoryInterface interface {
	Create(ctx context.Context, s *domain.Source) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Source, error)
	ListByChatbot(ctx context.Context, orgID, chatbotID string) ([]*domain.Source, error)
	Reclassify(ctx context.Context, orgID, id string, classification domain.Classification) error
	Delete(ctx context.Context, orgID, id string) error
}

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, source *domain.Source, chunks []domain.KnowledgeChunk) error
	ListBySource(ctx context.Context, orgID, sourceID string) ([]*domain.KnowledgeChunk, error)
}

// CacheInvalidator drops cached retrieval results for a chatbot after its
// sources change.
type CacheInvalidator interface {
	Invalidate(chatbotID string)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestService accepts sources from the ingestion pipeline, chunks their
// content, and keeps the chunk-level citable flags in lockstep with source
// classifications.
type IngestService struct {
	txRunner TxRunner
	cache    CacheInvalidator
	chunkCfg ChunkConfig
	uuidGen  UUIDGenerator
}

// NewIngestService creates a new IngestService instance
func NewIngestService(txRunner TxRunner, cache CacheInvalidator) *IngestService {
	return &IngestService{
		txRunner: txRunner,
		cache:    cache,
		chunkCfg: DefaultChunkConfig(),
		uuidGen:  &DefaultUUIDGenerator{},
	}
}

// NewIngestServiceWithUUIDGen creates an IngestService with a custom UUID generator (for testing)
func NewIngestServiceWithUUIDGen(txRunner TxRunner, cache CacheInvalidator, uuidGen UUIDGenerator) *IngestService {
	s := NewIngestService(txRunner, cache)
	s.uuidGen = uuidGen
	return s
}

// IngestInput is one source document handed over by the ingestion pipeline.
type IngestInput struct {
	OrgID          string
	ChatbotID      string
	Name           string
	Classification domain.Classification
	Priority       float64
	Content        string
}

// Ingest stores the source and its chunks in one transaction. Chunks are
// stored without vectors; the embedding worker fills those in.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		ChatbotID: input.ChatbotID,
		Operation: "ingest",
	})
	defer span.End()

	if input.Content == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source content is required")
	}
	if !input.Classification.IsValid() {
		return nil, domain.ErrInvalidClassification
	}

	now := time.Now().UTC()
	source := &domain.Source{
		ID:             s.uuidGen.NewString(),
		OrgID:          input.OrgID,
		ChatbotID:      input.ChatbotID,
		Name:           input.Name,
		Classification: input.Classification,
		Priority:       input.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := domain.ValidateSource(source); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid source", err)
	}

	pieces := chunkText(input.Content, s.chunkCfg)
	chunks := make([]domain.KnowledgeChunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, domain.KnowledgeChunk{
			ID:         s.uuidGen.NewString(),
			SourceID:   source.ID,
			OrgID:      source.OrgID,
			ChatbotID:  source.ChatbotID,
			ChunkIndex: i,
			Content:    piece,
			Citable:    source.Classification == domain.ClassificationCitable,
			CreatedAt:  now,
		})
	}

	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().Create(ctx, source); err != nil {
			return err
		}
		return repos.Chunks().ReplaceChunks(ctx, source, chunks)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.cache.Invalidate(source.ChatbotID)
	return source, nil
}

// Reclassify flips a source between citable and private, re-tagging its
// chunks in the same transaction and dropping the chatbot's cached
// retrieval results.
func (s *IngestService) Reclassify(ctx context.Context, orgID, sourceID string, classification domain.Classification) (*domain.Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Reclassify", telemetry.SpanAttributes{
		OrgID:     orgID,
		Operation: "reclassify",
	})
	defer span.End()

	if !classification.IsValid() {
		return nil, domain.ErrInvalidClassification
	}

	var updated *domain.Source
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().Reclassify(ctx, orgID, sourceID, classification); err != nil {
			return err
		}
		source, err := repos.Sources().GetByID(ctx, orgID, sourceID)
		if err != nil {
			return err
		}
		updated = source
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.cache.Invalidate(updated.ChatbotID)
	return updated, nil
}

// GetSource returns one source scoped to the org.
func (s *IngestService) GetSource(ctx context.Context, orgID, sourceID string) (*domain.Source, error) {
	var source *domain.Source
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		found, err := repos.Sources().GetByID(ctx, orgID, sourceID)
		if err != nil {
			return err
		}
		source = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// ListSources returns a chatbot's sources scoped to the org.
func (s *IngestService) ListSources(ctx context.Context, orgID, chatbotID string) ([]*domain.Source, error) {
	var sources []*domain.Source
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		found, err := repos.Sources().ListByChatbot(ctx, orgID, chatbotID)
		if err != nil {
			return err
		}
		sources = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// Delete removes a source and its chunks, then drops the chatbot's cached
// retrieval results.
func (s *IngestService) Delete(ctx context.Context, orgID, sourceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Delete", telemetry.SpanAttributes{
		OrgID:     orgID,
		Operation: "delete",
	})
	defer span.End()

	var chatbotID string
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		source, err := repos.Sources().GetByID(ctx, orgID, sourceID)
		if err != nil {
			return err
		}
		chatbotID = source.ChatbotID
		return repos.Sources().Delete(ctx, orgID, sourceID)
	})
	if err != nil {
		span.SetError(err)
		return err
	}

	s.cache.Invalidate(chatbotID)
	return nil
}
