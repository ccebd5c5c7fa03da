package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BudgetRepository is the persistent per-tenant daily spend ledger. The day
// boundary is UTC midnight.
type BudgetRepository struct {
	pool       *pgxpool.Pool
	ceilingUSD float64
}

func NewBudgetRepository(pool *pgxpool.Pool, ceilingUSD float64) *BudgetRepository {
	return &BudgetRepository{pool: pool, ceilingUSD: ceilingUSD}
}

// CheckBudget fails with BUDGET_EXCEEDED when the organization's spend for
// the current UTC day has reached the ceiling.
func (r *BudgetRepository) CheckBudget(ctx context.Context, orgID string) error {
	var spent float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM budget_ledger WHERE org_id = $1 AND day = $2`,
		orgID, today(),
	).Scan(&spent)
	if err != nil {
		return err
	}
	if spent >= r.ceilingUSD {
		return domain.ErrBudgetExceeded
	}
	return nil
}

// RecordCost accrues usage atomically. The increment and the ceiling check
// are one conditional upsert: concurrent calls serialize on the row, and
// once the day's spend has reached the ceiling further accruals are
// rejected with BUDGET_EXCEEDED instead of racing past it.
func (r *BudgetRepository) RecordCost(ctx context.Context, orgID string, tokens int, costUSD float64) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO budget_ledger (org_id, day, tokens, cost_usd)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (org_id, day)
		 DO UPDATE SET tokens = budget_ledger.tokens + EXCLUDED.tokens,
		               cost_usd = budget_ledger.cost_usd + EXCLUDED.cost_usd
		 WHERE budget_ledger.cost_usd < $5`,
		orgID, today(), tokens, costUSD, r.ceilingUSD,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBudgetExceeded
	}
	return nil
}

// Spent returns the organization's spend for the current UTC day.
func (r *BudgetRepository) Spent(ctx context.Context, orgID string) (float64, error) {
	var spent float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM budget_ledger WHERE org_id = $1 AND day = $2`,
		orgID, today(),
	).Scan(&spent)
	return spent, err
}

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}
