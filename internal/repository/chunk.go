package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence of embedded knowledge chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes a source's existing chunks and inserts the new set.
// The citable flag on every row is derived from the source classification
// passed in, never from the chunk itself.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, source *domain.Source, chunks []domain.KnowledgeChunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1 AND org_id = $2`, source.ID, source.OrgID)
	if err != nil {
		return err
	}

	citable := source.Classification == domain.ClassificationCitable
	for _, c := range chunks {
		if err := domain.ValidateKnowledgeChunk(&c); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks
				(id, source_id, org_id, chatbot_id, chunk_index, content, embedding, citable, created_at, updated_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			c.ID,
			source.ID,
			source.OrgID,
			source.ChatbotID,
			c.ChunkIndex,
			c.Content,
			embeddingOrNil(c.Embedding),
			citable,
			createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateEmbedding fills in the vector for one chunk after the gateway has
// computed it.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, orgID, chunkID string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = $1, updated_at = $2 WHERE id = $3 AND org_id = $4`,
		pgvector.NewVector(embedding), time.Now().UTC(), chunkID, orgID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// ListBySource returns a source's chunks in chunk order.
func (r *ChunkRepository) ListBySource(ctx context.Context, orgID, sourceID string) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, org_id, chatbot_id, chunk_index, content, citable, created_at, updated_at
		 FROM chunks WHERE source_id = $1 AND org_id = $2
		 ORDER BY chunk_index ASC`,
		sourceID, orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.OrgID, &c.ChatbotID, &c.ChunkIndex, &c.Content, &c.Citable, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// ListMissingEmbeddings returns chunk ids and content still awaiting a
// vector, for the embedding worker.
func (r *ChunkRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, source_id, org_id, chatbot_id, chunk_index, content, citable, created_at, updated_at
		 FROM chunks WHERE embedding IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.OrgID, &c.ChatbotID, &c.ChunkIndex, &c.Content, &c.Citable, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func embeddingOrNil(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
