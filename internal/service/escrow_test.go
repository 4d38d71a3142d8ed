package service

import (
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteDueWaitsForHold(t *testing.T) {
	env := newTestEnv(t)
	env.sell(t, "seller-1", "o-1", 10_000)

	env.clock.Advance(env.settings.EscrowHold - time.Minute)
	promoted, err := env.escrow.PromoteDue(env.ctx, 100)
	require.NoError(t, err)
	require.Zero(t, promoted)
	env.requireBalances(t, "seller-1", 0, 9_000)

	summary, err := env.balances.Summary(env.ctx, "seller-1")
	require.NoError(t, err)
	require.NotNil(t, summary.NextReleaseAt)
	require.True(t, summary.NextReleaseAt.Equal(testStart.Add(env.settings.EscrowHold)))

	env.clock.Advance(time.Minute)
	promoted, err = env.escrow.PromoteDue(env.ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, promoted)
	env.requireBalances(t, "seller-1", 9_000, 0)

	summary, err = env.balances.Summary(env.ctx, "seller-1")
	require.NoError(t, err)
	require.Nil(t, summary.NextReleaseAt)
	require.Equal(t, "USD", summary.Currency)

	promoted, err = env.escrow.PromoteDue(env.ctx, 100)
	require.NoError(t, err)
	require.Zero(t, promoted)
	env.requireBalanced(t, "seller-1")
}

func TestPromoteDueOnlyReleasesElapsedOrders(t *testing.T) {
	env := newTestEnv(t)
	env.sell(t, "seller-1", "early", 10_000)
	env.clock.Advance(3 * 24 * time.Hour)
	env.sell(t, "seller-1", "late", 5_000)

	env.clock.Advance(4 * 24 * time.Hour)
	promoted, err := env.escrow.PromoteDue(env.ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 2, promoted)
	env.requireBalances(t, "seller-1", 9_000, 4_500)

	entries, err := env.ledger.Query(env.ctx, "seller-1", domain.StatePending)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "late", e.RelatedOrderID)
	}
}

func TestPromoteDueAuditsEscrowElapsed(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.ledger.SettleSale(env.ctx, SaleEvent{OrderID: "o-1", WalletID: "seller-1", GrossAmount: 10_000})
	require.NoError(t, err)

	env.clock.Advance(env.settings.EscrowHold)
	_, err = env.escrow.PromoteDue(env.ctx, 100)
	require.NoError(t, err)

	logs, err := env.store.Queries().ListAuditLogs(env.ctx, result.SaleCreditID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, domain.CauseEscrowElapsed, logs[1].Cause)
	require.Equal(t, domain.StatePending, logs[1].PrevState)
	require.Equal(t, domain.StateAvailable, logs[1].NextState)
}

func TestPromoteDueConcurrentRunsPromoteOnce(t *testing.T) {
	env := newTestEnv(t)
	for _, order := range []string{"o-1", "o-2", "o-3", "o-4"} {
		env.sell(t, "seller-1", order, 1_000)
	}
	env.clock.Advance(env.settings.EscrowHold)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := env.escrow.PromoteDue(env.ctx, 100)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 8, total)
	env.requireBalances(t, "seller-1", 3_600, 0)
}

func TestPromoteDueHonoursBatchSize(t *testing.T) {
	env := newTestEnv(t)
	for _, order := range []string{"o-1", "o-2", "o-3"} {
		env.sell(t, "seller-1", order, 1_000)
	}
	env.clock.Advance(env.settings.EscrowHold)

	promoted, err := env.escrow.PromoteDue(env.ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 4, promoted)

	promoted, err = env.escrow.PromoteDue(env.ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, promoted)
}
