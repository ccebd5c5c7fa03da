package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository persists privacy audit records. Writes happen on the
// query path for REDACTED and BLOCKED verdicts and are mandatory there, so
// the methods stay lean.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) WriteAudit(ctx context.Context, record *domain.AuditRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO privacy_audit
			(id, org_id, chatbot_id, conversation_id, verdict, reasons, passage_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.OrgID,
		nullableString(record.ChatbotID),
		nullableString(record.ConversationID),
		record.Verdict,
		record.Reasons,
		record.PassageIDs,
		createdAt,
	)
	return err
}

// ListUnarchived returns the oldest audit records not yet exported to cold
// storage.
func (r *AuditRepository) ListUnarchived(ctx context.Context, limit int) ([]*domain.AuditRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, org_id, chatbot_id, conversation_id, verdict, reasons, passage_ids, created_at, archived_at
		 FROM privacy_audit
		 WHERE archived_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var chatbotID, conversationID *string
		if err := rows.Scan(&rec.ID, &rec.OrgID, &chatbotID, &conversationID, &rec.Verdict, &rec.Reasons, &rec.PassageIDs, &rec.CreatedAt, &rec.ArchivedAt); err != nil {
			return nil, err
		}
		if chatbotID != nil {
			rec.ChatbotID = *chatbotID
		}
		if conversationID != nil {
			rec.ConversationID = *conversationID
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// MarkArchived stamps records as exported.
func (r *AuditRepository) MarkArchived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE privacy_audit SET archived_at = $1 WHERE id = ANY($2)`,
		time.Now().UTC(), ids,
	)
	return err
}
