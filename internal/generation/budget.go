package generation

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// BudgetLedger tracks per-organization daily spend on model calls.
type BudgetLedger interface {
	// CheckBudget fails with BUDGET_EXCEEDED when the organization has
	// already spent at or above its daily ceiling.
	CheckBudget(ctx context.Context, orgID string) error
	// RecordCost accrues usage against the organization's current day.
	RecordCost(ctx context.Context, orgID string, tokens int, costUSD float64) error
}

// MemoryLedger is an in-process BudgetLedger. The day boundary is UTC
// midnight, matching the persistent ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	ceiling float64
	spent   map[string]float64
	day     string
	now     func() time.Time
}

// NewMemoryLedger creates an in-memory ledger with the given daily ceiling
// in USD per organization.
func NewMemoryLedger(ceilingUSD float64) *MemoryLedger {
	return &MemoryLedger{
		ceiling: ceilingUSD,
		spent:   make(map[string]float64),
		now:     time.Now,
	}
}

func (l *MemoryLedger) rollover() {
	today := l.now().UTC().Format("2006-01-02")
	if l.day != today {
		l.day = today
		l.spent = make(map[string]float64)
	}
}

// CheckBudget implements BudgetLedger.
func (l *MemoryLedger) CheckBudget(_ context.Context, orgID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.spent[orgID] >= l.ceiling {
		return domain.ErrBudgetExceeded
	}
	return nil
}

// RecordCost implements BudgetLedger.
func (l *MemoryLedger) RecordCost(_ context.Context, orgID string, _ int, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.spent[orgID] += costUSD
	return nil
}

// Spent returns the organization's spend for the current day.
func (l *MemoryLedger) Spent(orgID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.spent[orgID]
}
