// Package index provides tenant-scoped nearest-neighbor search over
// knowledge chunks with mandatory privacy filtering.
package index

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mode selects which classifications a search may return.
type Mode string

const (
	// ModeGrounding returns citable and private passages, for reasoning.
	ModeGrounding Mode = "grounding"
	// ModeCitation returns citable passages only, for anything that may be
	// quoted or attributed.
	ModeCitation Mode = "citation"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeGrounding || m == ModeCitation
}

// Searcher is the pluggable index backend. Tenant scoping and the citation
// mode filter are hard pre-filters inside every implementation, never
// post-filters on an unscoped result set.
type Searcher interface {
	Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode Mode) ([]domain.RetrievedPassage, error)
}

// Backend names accepted by New.
const (
	BackendPGVector     = "pgvector"
	BackendPGVectorHNSW = "pgvector_hnsw"
	BackendMemory       = "memory"
)

// New constructs the configured backend. pool may be nil for the memory
// backend.
func New(backend string, pool *pgxpool.Pool, hnswCandidates int) (Searcher, error) {
	switch backend {
	case BackendPGVector:
		return NewPGVectorSearcher(pool), nil
	case BackendPGVectorHNSW:
		return NewPGVectorHNSWSearcher(pool, hnswCandidates), nil
	case BackendMemory:
		return NewMemorySearcher(), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}
