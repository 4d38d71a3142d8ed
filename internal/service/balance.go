package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/models"
	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"go.uber.org/zap"
)

// BalanceCache memoizes projected balances between ledger writes. Delete advances
// the wallet generation; Set stores only under the generation it is given.
type BalanceCache interface {
	Get(ctx context.Context, walletID string) (domain.Balances, bool, error)
	Generation(ctx context.Context, walletID string) (int64, error)
	Set(ctx context.Context, walletID string, generation int64, balances domain.Balances) (bool, error)
	Delete(ctx context.Context, walletID string) error
}

// BalanceProjector derives wallet balances from the ledger and the active reservations.
type BalanceProjector struct {
	store    QueryStore
	cache    BalanceCache
	currency string
}

// NewBalanceProjector accepts a nil cache.
func NewBalanceProjector(store QueryStore, cache BalanceCache, settings Settings) *BalanceProjector {
	return &BalanceProjector{store: store, cache: cache, currency: settings.Currency}
}

func projectBalances(sums repository.WalletBalances) domain.Balances {
	return domain.Balances{
		Available: sums.Available + sums.Settled - sums.Reserved,
		Pending:   sums.Pending,
		Reserved:  sums.Reserved,
	}
}

// computeBalances reads the projection through q, so inside a transaction it sees uncommitted sibling writes.
func computeBalances(ctx context.Context, q repository.Querier, walletID string) (domain.Balances, error) {
	sums, err := q.SumWalletBalances(ctx, walletID)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("sum wallet balances: %w", err)
	}
	return projectBalances(sums), nil
}

// GetBalances returns the wallet's available and pending balances.
func (p *BalanceProjector) GetBalances(ctx context.Context, walletID string) (domain.Balances, error) {
	// The generation is read before the ledger so a write committed in between
	// makes the later Set a no-op.
	cacheable := false
	var generation int64
	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, walletID)
		switch {
		case err != nil:
			observability.IncrementBalanceCache("error")
			zap.L().Warn("balance cache read failed", zap.String("wallet_id", walletID), zap.Error(err))
		case ok:
			observability.IncrementBalanceCache("hit")
			return cached, nil
		default:
			observability.IncrementBalanceCache("miss")
			if generation, err = p.cache.Generation(ctx, walletID); err != nil {
				zap.L().Warn("balance cache generation read failed", zap.String("wallet_id", walletID), zap.Error(err))
			} else {
				cacheable = true
			}
		}
	}

	var balances domain.Balances
	err := p.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.GetWallet(ctx, walletID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrWalletNotFound
			}
			return fmt.Errorf("get wallet: %w", err)
		}
		var err error
		balances, err = computeBalances(ctx, qtx, walletID)
		return err
	})
	if err != nil {
		return domain.Balances{}, err
	}

	if cacheable {
		stored, err := p.cache.Set(ctx, walletID, generation, balances)
		switch {
		case err != nil:
			zap.L().Warn("balance cache write failed", zap.String("wallet_id", walletID), zap.Error(err))
		case !stored:
			observability.IncrementBalanceCache("stale")
		}
	}
	return balances, nil
}

// Summary is the seller-facing wallet view with the next escrow release time.
func (p *BalanceProjector) Summary(ctx context.Context, walletID string) (*models.WalletSummary, error) {
	balances, err := p.GetBalances(ctx, walletID)
	if err != nil {
		return nil, err
	}
	next, err := p.store.Queries().NextReleaseAt(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("next release: %w", err)
	}
	return &models.WalletSummary{
		WalletID:      walletID,
		Currency:      p.currency,
		Available:     balances.Available,
		Pending:       balances.Pending,
		Reserved:      balances.Reserved,
		NextReleaseAt: next,
	}, nil
}

// Invalidate drops the cached projection after a committed write.
func (p *BalanceProjector) Invalidate(ctx context.Context, walletID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, walletID); err != nil {
		zap.L().Warn("balance cache invalidation failed", zap.String("wallet_id", walletID), zap.Error(err))
	}
}
