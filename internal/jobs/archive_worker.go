package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/confidant/internal/domain"
)

const (
	// ArchiveBatchSize caps how many audit records one poll cycle exports
	ArchiveBatchSize = 100
)

// AuditStore defines the persistence interface for audit archival
type AuditStore interface {
	// ListUnarchived returns audit records not yet exported to cold storage
	ListUnarchived(ctx context.Context, limit int) ([]*domain.AuditRecord, error)

	// MarkArchived stamps records as exported
	MarkArchived(ctx context.Context, ids []string) error
}

// ArchiveStore uploads a batch of audit records and returns the object key
type ArchiveStore interface {
	ArchiveAuditBatch(ctx context.Context, records []*domain.AuditRecord) (string, error)
}

// ArchiveWorker exports privacy audit records to cold storage.
// Records are marked archived only after the upload succeeds, so a
// failed export is retried on the next cycle.
type ArchiveWorker struct {
	store   AuditStore
	archive ArchiveStore
}

// NewArchiveWorker creates a new ArchiveWorker instance
func NewArchiveWorker(store AuditStore, archive ArchiveStore) *ArchiveWorker {
	return &ArchiveWorker{
		store:   store,
		archive: archive,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *ArchiveWorker) ProcessJobs(ctx context.Context) error {
	records, err := w.store.ListUnarchived(ctx, ArchiveBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list unarchived audit records: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	key, err := w.archive.ArchiveAuditBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to export audit batch: %w", err)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	if err := w.store.MarkArchived(ctx, ids); err != nil {
		return fmt.Errorf("failed to mark audit records archived: %w", err)
	}

	log.Printf("Archived %d audit records to %s", len(records), key)
	return nil
}
