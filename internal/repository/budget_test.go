//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/cloo-solutions/confidant/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetRepository_AccrualAndCheck(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewBudgetRepository(pool, 1.0)
	orgID := uuid.NewString()

	require.NoError(t, repo.CheckBudget(ctx, orgID))
	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 0.4))
	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 0.4))
	require.NoError(t, repo.CheckBudget(ctx, orgID))

	spent, err := repo.Spent(ctx, orgID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, spent, 1e-9)
}

func TestBudgetRepository_CheckFailsAtCeiling(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewBudgetRepository(pool, 1.0)
	orgID := uuid.NewString()

	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 1.0))
	assert.ErrorIs(t, repo.CheckBudget(ctx, orgID), domain.ErrBudgetExceeded)
}

func TestBudgetRepository_AccrualStopsAtCeiling(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewBudgetRepository(pool, 1.0)
	orgID := uuid.NewString()

	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 0.9))
	// The accrual that crosses the ceiling still lands (the provider was
	// already paid), but the next one is rejected in the same statement
	// that would have incremented.
	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 0.3))
	assert.ErrorIs(t, repo.RecordCost(ctx, orgID, 1000, 0.3), domain.ErrBudgetExceeded)

	spent, err := repo.Spent(ctx, orgID)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, spent, 1e-9)
}

func TestBudgetRepository_ConcurrentAccrualsBoundOvershoot(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewBudgetRepository(pool, 1.0)
	orgID := uuid.NewString()
	require.NoError(t, repo.RecordCost(ctx, orgID, 1000, 0.95))

	// Ten racers, each 0.2: the conditional upsert serializes on the row,
	// so at most one accrual can cross the ceiling.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.RecordCost(ctx, orgID, 200, 0.2)
		}()
	}
	wg.Wait()

	spent, err := repo.Spent(ctx, orgID)
	require.NoError(t, err)
	assert.LessOrEqual(t, spent, 1.0+0.2+1e-9)
}
