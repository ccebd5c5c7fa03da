package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository persists conversations and their append-only
// transcripts. Turns are never updated or deleted.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Ensure creates the conversation if it does not exist and returns it
// either way.
func (r *ConversationRepository) Ensure(ctx context.Context, id, orgID, chatbotID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, org_id, chatbot_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET id = conversations.id
		 RETURNING id, org_id, chatbot_id, created_at`,
		id, orgID, chatbotID, time.Now().UTC(),
	).Scan(&conv.ID, &conv.OrgID, &conv.ChatbotID, &conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	// A conversation id belongs to exactly one tenant.
	if conv.OrgID != orgID || conv.ChatbotID != chatbotID {
		return nil, domain.ErrConversationNotFound
	}
	return &conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, orgID, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx,
		`SELECT id, org_id, chatbot_id, created_at FROM conversations WHERE id = $1 AND org_id = $2`,
		id, orgID,
	).Scan(&conv.ID, &conv.OrgID, &conv.ChatbotID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// AppendTurn appends one turn to the transcript.
func (r *ConversationRepository) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	if err := domain.ValidateTurn(turn); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid turn", err)
	}
	citations, err := json.Marshal(turn.Citations)
	if err != nil {
		return err
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO turns (id, conversation_id, role, text, citations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.ConversationID, turn.Role, turn.Text, citations, createdAt,
	)
	return err
}

// RecentTurns returns the newest turns in chronological order.
func (r *ConversationRepository) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, role, text, citations, created_at
		 FROM (
			SELECT id, conversation_id, role, text, citations, created_at
			FROM turns WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 ) latest
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

// Transcript returns the full transcript oldest first.
func (r *ConversationRepository) Transcript(ctx context.Context, orgID, conversationID string) ([]domain.Turn, error) {
	if _, err := r.GetByID(ctx, orgID, conversationID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, role, text, citations, created_at
		 FROM turns WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]domain.Turn, error) {
	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var citations []byte
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Text, &citations, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &t.Citations); err != nil {
				return nil, err
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
