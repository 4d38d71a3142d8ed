package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayoutConfirmedByCallback(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")
	env.requireBalances(t, "seller-1", 9_000, 0)

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusReserved, payout.Status)

	b, err := env.balances.GetBalances(env.ctx, "seller-1")
	require.NoError(t, err)
	require.Equal(t, domain.Balances{Available: 4_000, Pending: 0, Reserved: 5_000}, b)

	env.railA.queue(submitReply{result: provider.SubmitResult{Status: provider.SubmitAccepted, Reference: "X"}})
	submitted, err := env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	intents := env.railA.submitted()
	require.Len(t, intents, 1)
	require.Equal(t, domain.ProviderIdempotencyKey(payout.ID), intents[0].IdempotencyKey)
	require.Equal(t, "tok_seller-1", intents[0].Destination)
	require.Equal(t, int64(5_000), intents[0].Amount)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusDispatched, got.Status)
	require.Equal(t, "X", got.ProviderReference)
	require.Equal(t, int32(1), got.Attempts)

	require.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{EventID: "evt-1", Reference: "X", Outcome: "paid"}))

	got, err = env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusConfirmed, got.Status)
	require.NotNil(t, got.ResolvedAt)

	debits, err := env.ledger.Query(env.ctx, "seller-1", domain.StateSettled)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	require.Equal(t, domain.KindPayoutDebit, debits[0].Kind)
	require.Equal(t, int64(-5_000), debits[0].Amount)
	require.Equal(t, payout.ID, debits[0].RelatedPayoutID)

	env.requireBalances(t, "seller-1", 4_000, 0)
	env.requireBalanced(t, "seller-1")

	// A duplicate delivery changes nothing.
	require.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{EventID: "evt-1", Reference: "X", Outcome: "paid"}))
	debits, err = env.ledger.Query(env.ctx, "seller-1", domain.StateSettled)
	require.NoError(t, err)
	require.Len(t, debits, 1)
}

func TestPayoutConfirmedSynchronously(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 9_000, Method: domain.MethodRailA})
	require.NoError(t, err)

	env.railA.queue(submitReply{result: provider.SubmitResult{Status: provider.SubmitPaid, Reference: "sync-1"}})
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusConfirmed, got.Status)
	require.Equal(t, "sync-1", got.ProviderReference)
	env.requireBalances(t, "seller-1", 0, 0)

	logs, err := env.store.Queries().ListAuditLogs(env.ctx, payout.ID)
	require.NoError(t, err)
	causes := make([]string, 0, len(logs))
	for _, l := range logs {
		causes = append(causes, l.Cause)
	}
	require.Equal(t, []string{domain.CausePayoutRequested, domain.CauseDispatchClaim, domain.CauseProviderSync}, causes)
}

func TestConcurrentPayoutsReserveOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 9_000, Method: domain.MethodRailA})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			oks++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, oks)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], domain.ErrInsufficientAvailableBalance)

	payouts, err := env.payouts.ListPayouts(env.ctx, "seller-1", domain.PayoutStatusReserved, 0, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	env.requireBalances(t, "seller-1", 0, 0)
}

func TestReservationConflictRetriedOnce(t *testing.T) {
	cases := []struct {
		name     string
		failures int
		wantErr  error
	}{
		{name: "one conflict is retried", failures: 1},
		{name: "second conflict surfaces", failures: 2, wantErr: domain.ErrConcurrentReservationConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.fundedWallet(t, "seller-1")

			flaky := &flakyStore{QueryStore: env.store, failures: tc.failures, err: repository.ErrSerialization}
			payouts := NewPayoutOrchestrator(flaky, provider.NewRegistry(env.railA, env.railB), env.ledger, env.balances, env.settings)

			payout, err := payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
			require.Equal(t, 2, flaky.callCount())
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				env.requireBalances(t, "seller-1", 9_000, 0)
				return
			}
			require.NoError(t, err)
			require.Equal(t, domain.PayoutStatusReserved, payout.Status)
			env.requireBalances(t, "seller-1", 4_000, 0)
		})
	}
}

func TestPayoutTimeoutReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 6_000, Method: domain.MethodRailA})
	require.NoError(t, err)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)
	env.requireBalances(t, "seller-1", 3_000, 0)

	env.clock.Advance(env.settings.PayoutTimeout - time.Minute)
	released, err := env.payouts.SweepTimedOut(env.ctx, 10)
	require.NoError(t, err)
	require.Zero(t, released)

	env.clock.Advance(time.Minute)
	released, err = env.payouts.SweepTimedOut(env.ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, got.Status)
	require.Equal(t, domain.ReasonProviderTimeout, got.FailureReason)
	env.requireBalances(t, "seller-1", 9_000, 0)

	// The provider confirms after the sweep: the late event is absorbed and nothing is debited.
	require.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{PayoutID: payout.ID, Reference: "ref-" + payout.ID, Outcome: "paid"}))
	got, err = env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, got.Status)
	env.requireBalances(t, "seller-1", 9_000, 0)
	env.requireBalanced(t, "seller-1")

	err = env.payouts.Confirm(env.ctx, payout.ID, "late", domain.CauseProviderCallback)
	require.ErrorIs(t, err, ErrPayoutAlreadyResolved)

	released, err = env.payouts.SweepTimedOut(env.ctx, 10)
	require.NoError(t, err)
	require.Zero(t, released)
}

func TestPayoutRejectedByProvider(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)

	env.railA.queue(submitReply{err: domain.Rejected("account closed")})
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, got.Status)
	require.Equal(t, "provider_rejected: account closed", got.FailureReason)
	env.requireBalances(t, "seller-1", 9_000, 0)

	logs, err := env.store.Queries().ListAuditLogs(env.ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CauseProviderRejected, logs[len(logs)-1].Cause)

	// The seller may resubmit once funds are released.
	_, err = env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 9_000, Method: domain.MethodRailA})
	require.NoError(t, err)
}

func TestPayoutFailedByCallback(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	require.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{PayoutID: payout.ID, Outcome: "failed", Reason: "invalid card"}))
	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, got.Status)
	require.Equal(t, "provider_rejected: invalid card", got.FailureReason)

	// A paid event arriving after the failure does not resurrect the payout.
	require.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{PayoutID: payout.ID, Outcome: "paid"}))
	env.requireBalances(t, "seller-1", 9_000, 0)
	env.requireBalanced(t, "seller-1")
}

func TestTransientSubmitRetriesThenFails(t *testing.T) {
	env := newTestEnv(t, func(s *Settings) {
		s.MaxAttempts = 2
		s.RetryBackoff = time.Minute
	})
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)

	env.railA.queue(
		submitReply{err: provider.ErrUnavailable},
		submitReply{err: provider.ErrUnavailable},
	)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusDispatched, got.Status)
	require.Equal(t, int32(1), got.Attempts)

	submitted, err := env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)
	require.Zero(t, submitted)

	env.clock.Advance(2 * time.Minute)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	got, err = env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusFailed, got.Status)
	require.Equal(t, domain.ReasonProviderTimeout, got.FailureReason)
	require.Equal(t, int32(2), got.Attempts)

	intents := env.railA.submitted()
	require.Len(t, intents, 2)
	require.Equal(t, intents[0].IdempotencyKey, intents[1].IdempotencyKey)
	env.requireBalances(t, "seller-1", 9_000, 0)
}

func TestTransientSubmitRecoversOnRetry(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)

	env.railA.queue(submitReply{err: errors.New("connection reset")})
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	env.clock.Advance(env.settings.RetryBackoff)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusDispatched, got.Status)
	require.Equal(t, "ref-"+payout.ID, got.ProviderReference)
	require.Equal(t, int32(2), got.Attempts)
}

func TestRequestPayoutValidation(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")
	env.sell(t, "seller-2", "o-s2", 10_000)

	cases := []struct {
		name string
		in   PayoutInput
		want error
	}{
		{name: "below_minimum", in: PayoutInput{WalletID: "seller-1", Amount: 4_999, Method: domain.MethodRailA}, want: domain.ErrBelowMinimumPayout},
		{name: "non_positive", in: PayoutInput{WalletID: "seller-1", Amount: 0, Method: domain.MethodRailA}, want: domain.ErrInvalidAmount},
		{name: "unsupported_method", in: PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: "wire"}, want: domain.ErrUnsupportedMethod},
		{name: "method_not_configured", in: PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailB}, want: domain.ErrPayoutMethodNotConfigured},
		{name: "insufficient", in: PayoutInput{WalletID: "seller-1", Amount: 9_001, Method: domain.MethodRailA}, want: domain.ErrInsufficientAvailableBalance},
		{name: "no_account_on_file", in: PayoutInput{WalletID: "seller-2", Amount: 5_000, Method: domain.MethodRailA}, want: domain.ErrPayoutMethodNotConfigured},
		{name: "unknown_wallet", in: PayoutInput{WalletID: "ghost", Amount: 5_000, Method: domain.MethodRailA}, want: domain.ErrWalletNotFound},
		{name: "missing_wallet", in: PayoutInput{Amount: 5_000, Method: domain.MethodRailA}, want: domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.payouts.RequestPayout(env.ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := env.payouts.RegisterPayoutAccount(env.ctx, "seller-2", domain.MethodRailA, "tok_2")
	require.NoError(t, err)
	_, err = env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-2", Amount: 5_000, Method: domain.MethodRailA})
	require.ErrorIs(t, err, domain.ErrInsufficientAvailableBalance)

	payouts, err := env.payouts.ListPayouts(env.ctx, "seller-1", "", 0, 0)
	require.NoError(t, err)
	require.Empty(t, payouts)
}

func TestRequestPayoutIdempotentOnKey(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	in := PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA, RequestKey: "key-1"}
	first, err := env.payouts.RequestPayout(env.ctx, in)
	require.NoError(t, err)
	second, err := env.payouts.RequestPayout(env.ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	env.requireBalances(t, "seller-1", 4_000, 0)

	in.Amount = 6_000
	_, err = env.payouts.RequestPayout(env.ctx, in)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestGetPayoutScopedToWallet(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)

	_, err = env.payouts.GetPayout(env.ctx, "seller-2", payout.ID)
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)
	_, err = env.payouts.GetPayout(env.ctx, "seller-1", "missing")
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)

	_, err = env.payouts.ListPayouts(env.ctx, "seller-1", "requested", 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegisterPayoutAccount(t *testing.T) {
	env := newTestEnv(t)

	account, err := env.payouts.RegisterPayoutAccount(env.ctx, "new-seller", domain.MethodRailB, "payee@example.com")
	require.NoError(t, err)
	require.Equal(t, "payee@example.com", account.Identifier)

	wallet, err := env.store.Queries().GetWallet(env.ctx, "new-seller")
	require.NoError(t, err)
	require.Equal(t, domain.TierStandard, wallet.Tier)

	_, err = env.payouts.RegisterPayoutAccount(env.ctx, "new-seller", domain.MethodRailB, "changed@example.com")
	require.NoError(t, err)
	accounts, err := env.payouts.ListPayoutAccounts(env.ctx, "new-seller")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "changed@example.com", accounts[0].Identifier)

	_, err = env.payouts.RegisterPayoutAccount(env.ctx, "new-seller", domain.MethodRailA, " ")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = env.payouts.RegisterPayoutAccount(env.ctx, "new-seller", "wire", "x")
	require.ErrorIs(t, err, domain.ErrUnsupportedMethod)
}

func TestCallbackRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.callbacks.HandleCallback(env.ctx, string(domain.MethodRailA), []byte(`{}`), nil)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = env.callbacks.HandleCallback(env.ctx, "wire", []byte(`{}`), nil)
	require.ErrorIs(t, err, domain.ErrUnsupportedMethod)

	err = env.callback(t, domain.MethodRailA, stubCallback{Reference: "unknown", Outcome: "paid"})
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)

	err = env.callback(t, domain.MethodRailA, stubCallback{Outcome: "paid"})
	require.ErrorIs(t, err, domain.ErrInvalidCallback)

	assert.NoError(t, env.callback(t, domain.MethodRailA, stubCallback{Reference: "unknown", Outcome: "ignored"}))
}

func TestCallbackRejectsWrongRail(t *testing.T) {
	env := newTestEnv(t)
	env.fundedWallet(t, "seller-1")

	payout, err := env.payouts.RequestPayout(env.ctx, PayoutInput{WalletID: "seller-1", Amount: 5_000, Method: domain.MethodRailA})
	require.NoError(t, err)
	_, err = env.payouts.DispatchPending(env.ctx, 10)
	require.NoError(t, err)

	err = env.callback(t, domain.MethodRailB, stubCallback{PayoutID: payout.ID, Outcome: "paid"})
	require.ErrorIs(t, err, domain.ErrInvalidCallback)

	got, err := env.payouts.GetPayout(env.ctx, "seller-1", payout.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PayoutStatusDispatched, got.Status)
}

func TestPayoutStateMachine(t *testing.T) {
	require.True(t, canTransitionPayout(domain.PayoutStatusRequested, domain.PayoutStatusReserved))
	require.True(t, canTransitionPayout(domain.PayoutStatusReserved, domain.PayoutStatusDispatched))
	require.True(t, canTransitionPayout(domain.PayoutStatusDispatched, domain.PayoutStatusConfirmed))
	require.False(t, canTransitionPayout(domain.PayoutStatusReserved, domain.PayoutStatusConfirmed))
	require.False(t, canTransitionPayout(domain.PayoutStatusConfirmed, domain.PayoutStatusFailed))
	require.False(t, canTransitionPayout(domain.PayoutStatusFailed, domain.PayoutStatusReserved))
	require.False(t, canTransitionPayout("unknown", domain.PayoutStatusReserved))

	require.Equal(t, []string{domain.PayoutStatusDispatched}, payoutSources(domain.PayoutStatusConfirmed))
	require.Equal(t, []string{domain.PayoutStatusDispatched, domain.PayoutStatusReserved}, payoutSources(domain.PayoutStatusFailed))
}
