package index

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchSQL ranks by cosine similarity with ties broken by recency then the
// source's priority weight. Tenant, chatbot, and (in citation mode) the
// citable flag are WHERE predicates: filtering happens before ranking, in
// the database.
const searchSQL = `
	SELECT c.id, c.source_id, c.content, c.citable, c.created_at, s.priority,
	       1.0 / (1.0 + (c.embedding <=> $1)) AS score
	FROM chunks c
	JOIN sources s ON s.id = c.source_id
	WHERE c.org_id = $2
	  AND c.chatbot_id = $3
	  AND c.embedding IS NOT NULL
	  AND ($4 OR c.citable)
	ORDER BY score DESC, c.created_at DESC, s.priority DESC
	LIMIT $5`

// PGVectorSearcher is the exact-scan backend.
type PGVectorSearcher struct {
	pool *pgxpool.Pool
}

func NewPGVectorSearcher(pool *pgxpool.Pool) *PGVectorSearcher {
	return &PGVectorSearcher{pool: pool}
}

func (s *PGVectorSearcher) Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode Mode) ([]domain.RetrievedPassage, error) {
	if err := validateSearch(orgID, chatbotID, mode); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 8
	}

	includePrivate := mode == ModeGrounding
	rows, err := s.pool.Query(ctx, searchSQL,
		pgvector.NewVector(query), orgID, chatbotID, includePrivate, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPassages(rows)
}

// PGVectorHNSWSearcher is the approximate backend. It runs the same scoped
// query inside a transaction that raises hnsw.ef_search so the planner uses
// the HNSW index with a wider candidate pool.
type PGVectorHNSWSearcher struct {
	pool       *pgxpool.Pool
	candidates int
}

func NewPGVectorHNSWSearcher(pool *pgxpool.Pool, candidates int) *PGVectorHNSWSearcher {
	if candidates <= 0 {
		candidates = 40
	}
	return &PGVectorHNSWSearcher{pool: pool, candidates: candidates}
}

func (s *PGVectorHNSWSearcher) Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode Mode) ([]domain.RetrievedPassage, error) {
	if err := validateSearch(orgID, chatbotID, mode); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 8
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// SET does not take bind parameters; candidates is a validated int.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.candidates)); err != nil {
		return nil, err
	}

	includePrivate := mode == ModeGrounding
	rows, err := tx.Query(ctx, searchSQL,
		pgvector.NewVector(query), orgID, chatbotID, includePrivate, k)
	if err != nil {
		return nil, err
	}

	passages, err := scanPassages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return passages, nil
}

func validateSearch(orgID, chatbotID string, mode Mode) error {
	if orgID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "org ID is required for search")
	}
	if chatbotID == "" {
		return domain.ErrMissingChatbotID
	}
	if !mode.IsValid() {
		return domain.ErrInvalidSearchMode
	}
	return nil
}

type passageRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPassages(rows passageRows) ([]domain.RetrievedPassage, error) {
	passages := make([]domain.RetrievedPassage, 0)
	for rows.Next() {
		var p domain.RetrievedPassage
		if err := rows.Scan(&p.ChunkID, &p.SourceID, &p.Content, &p.Citable, &p.CreatedAt, &p.Priority, &p.Score); err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}
