package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"github.com/ayo6706/marketplace-wallet/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPgStore_LedgerAndPayoutLifecycle(t *testing.T) {
	pool := testutil.PostgresPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	q := store.Queries()

	_, err := q.UpsertWallet(ctx, repository.UpsertWalletParams{ID: "w1", Tier: "standard", Now: t0})
	require.NoError(t, err)

	hold := t0.Add(7 * 24 * time.Hour)
	require.NoError(t, store.RunInTx(ctx, func(tx repository.Querier) error {
		if _, err := tx.LockWallet(ctx, "w1"); err != nil {
			return err
		}
		for _, e := range []repository.InsertLedgerEntryParams{
			{ID: "01A", WalletID: "w1", Kind: "sale_credit", Amount: 10_000, Currency: "USD", State: "pending", HoldUntil: &hold, RelatedOrderID: "o1", IdempotencyKey: "sale:o1", CreatedAt: t0},
			{ID: "01B", WalletID: "w1", Kind: "commission_debit", Amount: -1_000, Currency: "USD", State: "pending", HoldUntil: &hold, RelatedOrderID: "o1", IdempotencyKey: "commission:o1", CommissionRate: "0.1", CreatedAt: t0},
		} {
			if _, err := tx.InsertLedgerEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	_, err = q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID: "01C", WalletID: "w1", Kind: "sale_credit", Amount: 10_000, Currency: "USD", State: "pending",
		RelatedOrderID: "o1", IdempotencyKey: "sale:o1", CreatedAt: t0,
	})
	assert.True(t, errors.Is(err, repository.ErrUniqueViolation))

	balances, err := q.SumWalletBalances(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(9_000), balances.Pending)

	due, err := q.ListDueSales(ctx, repository.ListDueSalesParams{Now: hold, Limit: 10})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "o1", due[0].RelatedOrderID)

	for _, id := range []string{"01A", "01B"} {
		rows, err := q.TransitionLedgerEntry(ctx, repository.TransitionLedgerEntryParams{ID: id, FromState: "pending", ToState: "available", Now: hold})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	}

	_, err = q.InsertPayoutRequest(ctx, repository.InsertPayoutRequestParams{
		ID: "p1", WalletID: "w1", Amount: 5_000, Currency: "USD", Method: "rail_a",
		Destination: "tok", Status: "reserved", RequestKey: "k1", RequestedAt: hold,
	})
	require.NoError(t, err)

	balances, err = q.SumWalletBalances(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, repository.WalletBalances{Available: 9_000, Reserved: 5_000}, balances)

	rows, err := q.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
		ID: "p1", From: []string{"reserved"}, To: "dispatched", DispatchedAt: &hold, LastAttemptAt: &hold,
		IncrementAttempts: true, Now: hold,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	timedOut, err := q.ListTimedOutPayouts(ctx, repository.ListTimedOutPayoutsParams{DispatchedBefore: hold, Limit: 10})
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	assert.Equal(t, int32(1), timedOut[0].Attempts)

	rows, err = q.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
		ID: "p1", From: []string{"reserved", "dispatched"}, To: "failed", FailureReason: "provider_timeout",
		ResolvedAt: &hold, ReleasedAt: &hold, Now: hold,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	balances, err = q.SumWalletBalances(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances.Reserved)

	next, err := q.NextReleaseAt(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = q.GetPayoutRequest(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
