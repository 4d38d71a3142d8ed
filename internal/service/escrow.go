package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"go.uber.org/zap"
)

// EscrowScheduler promotes pending entries whose hold has elapsed.
// Concurrent runs are safe: every promotion is a compare-and-swap.
type EscrowScheduler struct {
	store    QueryStore
	ledger   *LedgerService
	balances *BalanceProjector
	settings Settings
}

func NewEscrowScheduler(store QueryStore, ledger *LedgerService, balances *BalanceProjector, settings Settings) *EscrowScheduler {
	return &EscrowScheduler{store: store, ledger: ledger, balances: balances, settings: settings}
}

// PromoteDue promotes up to batchSize due orders and returns the number of entries moved.
func (s *EscrowScheduler) PromoteDue(ctx context.Context, batchSize int32) (int, error) {
	now := s.settings.now()
	due, err := s.store.Queries().ListDueSales(ctx, repository.ListDueSalesParams{Now: now, Limit: batchSize})
	if err != nil {
		return 0, fmt.Errorf("list due sales: %w", err)
	}

	var (
		promoted int
		errs     []error
	)
	for _, sale := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.promoteOrder(ctx, sale)
		if err != nil {
			zap.L().Error("escrow promotion failed",
				zap.String("wallet_id", sale.WalletID),
				zap.String("order_id", sale.RelatedOrderID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		promoted += n
	}

	observability.AddEscrowPromotions(promoted)
	if promoted > 0 {
		zap.L().Info("escrow holds released", zap.Int("entries", promoted), zap.Int("orders", len(due)))
	}
	return promoted, errors.Join(errs...)
}

func (s *EscrowScheduler) promoteOrder(ctx context.Context, sale repository.DueSale) (int, error) {
	now := s.settings.now()
	var moved int
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, sale.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		entries, err := qtx.ListOrderEntries(ctx, sale.RelatedOrderID)
		if err != nil {
			return fmt.Errorf("list order entries: %w", err)
		}
		for _, entry := range entries {
			if entry.State != domain.StatePending || entry.HoldUntil == nil || entry.HoldUntil.After(now) {
				continue
			}
			ok, err := s.ledger.transitionEntry(ctx, qtx, entry, domain.StatePending, domain.StateAvailable, domain.CauseEscrowElapsed)
			if err != nil {
				return err
			}
			if ok {
				moved++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.balances.Invalidate(ctx, sale.WalletID)
	}
	return moved, nil
}
