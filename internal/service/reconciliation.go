package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"go.uber.org/zap"
)

const reconciliationPageSize = 200

// Reconciliation check names.
const (
	CheckConservation      = "conservation"
	CheckSettledDebits     = "settled_debits"
	CheckConfirmedPayouts  = "confirmed_payouts"
	CheckNegativeAvailable = "negative_available"
	CheckNegativePending   = "negative_pending"
)

// Violation is one failed integrity check for a wallet.
type Violation struct {
	WalletID string
	Check    string
	Expected int64
	Actual   int64
}

// ReconciliationService verifies ledger integrity invariants per wallet.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks every wallet and returns the violations found.
func (s *ReconciliationService) Run(ctx context.Context) ([]Violation, error) {
	var (
		violations []Violation
		after      string
		wallets    int
	)
	for {
		ids, err := s.store.Queries().ListWalletIDs(ctx, after, reconciliationPageSize)
		if err != nil {
			return nil, fmt.Errorf("list wallets: %w", err)
		}
		for _, id := range ids {
			found, err := s.CheckWallet(ctx, id)
			if err != nil {
				return nil, err
			}
			violations = append(violations, found...)
		}
		wallets += len(ids)
		if len(ids) < reconciliationPageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	counts, err := s.store.Queries().CountPayoutsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count payouts by status: %w", err)
	}
	observability.SetPayoutStatusCounts(counts)

	for _, v := range violations {
		observability.IncrementReconciliationViolation(v.Check)
		zap.L().Error("CRITICAL: wallet ledger violation",
			zap.String("wallet_id", v.WalletID),
			zap.String("check", v.Check),
			zap.Int64("expected", v.Expected),
			zap.Int64("actual", v.Actual),
		)
	}
	if len(violations) == 0 {
		zap.L().Info("wallet ledger balanced", zap.Int("wallets", wallets))
	}
	return violations, nil
}

// CheckWallet evaluates the integrity checks for one wallet under its lock.
func (s *ReconciliationService) CheckWallet(ctx context.Context, walletID string) ([]Violation, error) {
	var (
		balances repository.WalletBalances
		kinds    repository.WalletKindSums
	)
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, walletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		var err error
		if balances, err = qtx.SumWalletBalances(ctx, walletID); err != nil {
			return fmt.Errorf("sum wallet balances: %w", err)
		}
		if kinds, err = qtx.SumWalletKinds(ctx, walletID); err != nil {
			return fmt.Errorf("sum wallet kinds: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evaluate(walletID, balances, kinds), nil
}

func evaluate(walletID string, balances repository.WalletBalances, kinds repository.WalletKindSums) []Violation {
	projected := projectBalances(balances)
	var out []Violation
	add := func(check string, expected, actual int64) {
		if expected != actual {
			out = append(out, Violation{WalletID: walletID, Check: check, Expected: expected, Actual: actual})
		}
	}

	// available + reserved + pending + |settled payout debits| == credits + commission + reversals
	add(CheckConservation,
		kinds.SaleCredits+kinds.CommissionDebits+kinds.Reversals,
		projected.Available+projected.Reserved+projected.Pending-balances.Settled)
	add(CheckSettledDebits, kinds.PayoutDebits, balances.Settled)
	add(CheckConfirmedPayouts, balances.Confirmed, -kinds.PayoutDebits)

	if projected.Available < 0 && kinds.Reversals == 0 {
		out = append(out, Violation{WalletID: walletID, Check: CheckNegativeAvailable, Expected: 0, Actual: projected.Available})
	}
	if balances.Pending < 0 && kinds.Reversals == 0 {
		out = append(out, Violation{WalletID: walletID, Check: CheckNegativePending, Expected: 0, Actual: balances.Pending})
	}
	return out
}
