package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceRepository handles persistence of knowledge sources. A source's
// classification is the single authority for whether its chunks are
// citable.
type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.Source) error {
	if err := domain.ValidateSource(s); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid source", err)
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO sources (id, org_id, chatbot_id, name, classification, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		s.ID, s.OrgID, s.ChatbotID, s.Name, s.Classification, s.Priority, createdAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Source, error) {
	var s domain.Source
	err := r.db.QueryRow(ctx,
		`SELECT id, org_id, chatbot_id, name, classification, priority, created_at, updated_at
		 FROM sources WHERE id = $1 AND org_id = $2`,
		id, orgID,
	).Scan(&s.ID, &s.OrgID, &s.ChatbotID, &s.Name, &s.Classification, &s.Priority, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SourceRepository) ListByChatbot(ctx context.Context, orgID, chatbotID string) ([]*domain.Source, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, org_id, chatbot_id, name, classification, priority, created_at, updated_at
		 FROM sources WHERE org_id = $1 AND chatbot_id = $2
		 ORDER BY created_at DESC`,
		orgID, chatbotID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		var s domain.Source
		if err := rows.Scan(&s.ID, &s.OrgID, &s.ChatbotID, &s.Name, &s.Classification, &s.Priority, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, &s)
	}
	return sources, rows.Err()
}

// Reclassify updates a source's classification and re-tags every chunk
// derived from it in the same statement set. Run inside a transaction so a
// crash can never leave chunks disagreeing with their source.
func (r *SourceRepository) Reclassify(ctx context.Context, orgID, id string, classification domain.Classification) error {
	if !classification.IsValid() {
		return domain.ErrInvalidClassification
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE sources SET classification = $1, updated_at = $2 WHERE id = $3 AND org_id = $4`,
		classification, time.Now().UTC(), id, orgID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}

	_, err = r.db.Exec(ctx,
		`UPDATE chunks SET citable = $1, updated_at = $2 WHERE source_id = $3 AND org_id = $4`,
		classification == domain.ClassificationCitable, time.Now().UTC(), id, orgID,
	)
	return err
}

func (r *SourceRepository) Delete(ctx context.Context, orgID, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM sources WHERE id = $1 AND org_id = $2`,
		id, orgID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}
