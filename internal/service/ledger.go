package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/models"
	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 500
)

var ledgerTransitions = map[string]map[string]struct{}{
	domain.StatePending: {
		domain.StateAvailable: {},
	},
	domain.StateAvailable: {
		domain.StateSettled: {},
	},
	domain.StateSettled: {},
}

func canTransitionEntry(from, to string) bool {
	next, ok := ledgerTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// LedgerService owns every write to the append-only ledger.
type LedgerService struct {
	store    QueryStore
	balances *BalanceProjector
	audit    *AuditService
	settings Settings
}

func NewLedgerService(store QueryStore, balances *BalanceProjector, settings Settings) *LedgerService {
	return &LedgerService{
		store:    store,
		balances: balances,
		audit:    NewAuditService(settings),
		settings: settings,
	}
}

// SaleEvent is a completed checkout reported by the order collaborator.
type SaleEvent struct {
	OrderID     string
	WalletID    string
	GrossAmount int64
	SellerTier  string
}

func (e *SaleEvent) normalize(defaultTier string) error {
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.WalletID = strings.TrimSpace(e.WalletID)
	e.SellerTier = strings.ToLower(strings.TrimSpace(e.SellerTier))
	if e.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", domain.ErrInvalidInput)
	}
	if e.WalletID == "" {
		return fmt.Errorf("%w: wallet_id is required", domain.ErrInvalidInput)
	}
	if e.GrossAmount <= 0 {
		return fmt.Errorf("%w: gross amount must be positive", domain.ErrInvalidAmount)
	}
	if e.SellerTier == "" {
		e.SellerTier = defaultTier
	}
	return nil
}

// AppendEntry is a single ledger fact written through Append.
type AppendEntry struct {
	WalletID        string
	Kind            string
	Amount          int64
	State           string
	HoldUntil       *time.Time
	RelatedOrderID  string
	RelatedPayoutID string
	IdempotencyKey  string
	CommissionRate  string
	Cause           string
	Metadata        []byte
}

// Append writes one entry in its own transaction and returns its id.
// A second append with the same idempotency key fails with ErrDuplicateSaleEvent.
func (s *LedgerService) Append(ctx context.Context, entry AppendEntry) (string, error) {
	if entry.WalletID == "" || entry.Kind == "" || entry.State == "" || entry.IdempotencyKey == "" {
		return "", fmt.Errorf("%w: wallet, kind, state and idempotency key are required", domain.ErrInvalidInput)
	}
	if entry.Cause == "" {
		return "", fmt.Errorf("%w: cause is required", domain.ErrInvalidInput)
	}

	var id string
	err := s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, entry.WalletID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		row, err := s.appendEntry(ctx, qtx, entry)
		if err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	s.balances.Invalidate(ctx, entry.WalletID)
	return id, nil
}

func (s *LedgerService) appendEntry(ctx context.Context, qtx repository.Querier, entry AppendEntry) (repository.LedgerEntry, error) {
	now := s.settings.now()
	row, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:              domain.NewEntryID(now),
		WalletID:        entry.WalletID,
		Kind:            entry.Kind,
		Amount:          entry.Amount,
		Currency:        s.settings.Currency,
		State:           entry.State,
		HoldUntil:       entry.HoldUntil,
		RelatedOrderID:  entry.RelatedOrderID,
		RelatedPayoutID: entry.RelatedPayoutID,
		IdempotencyKey:  entry.IdempotencyKey,
		CommissionRate:  entry.CommissionRate,
		CreatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return repository.LedgerEntry{}, fmt.Errorf("%w: %s", domain.ErrDuplicateSaleEvent, entry.IdempotencyKey)
		}
		return repository.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := s.audit.Write(ctx, qtx, domain.EntityLedgerEntry, row.ID, row.WalletID, entry.Cause, "", row.State, entry.Metadata); err != nil {
		return repository.LedgerEntry{}, err
	}
	return row, nil
}

// SettleSale records the sale credit and its commission debit for one order, atomically.
// Replaying an order returns the recorded settlement with Duplicate set.
func (s *LedgerService) SettleSale(ctx context.Context, event SaleEvent) (*models.SaleSettlement, error) {
	if err := event.normalize(s.settings.DefaultTier); err != nil {
		return nil, err
	}

	if existing, err := s.existingSettlement(ctx, s.store.Queries(), event); err != nil || existing != nil {
		return existing, err
	}

	commission, err := s.settings.Commission.Calculate(event.GrossAmount, event.SellerTier)
	if err != nil {
		return nil, err
	}

	now := s.settings.now()
	holdUntil := now.Add(s.settings.EscrowHold)
	result := &models.SaleSettlement{
		OrderID:        event.OrderID,
		WalletID:       event.WalletID,
		Gross:          event.GrossAmount,
		Commission:     commission.Amount,
		CommissionRate: commission.Rate.String(),
	}

	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.UpsertWallet(ctx, repository.UpsertWalletParams{ID: event.WalletID, Tier: event.SellerTier, Now: now}); err != nil {
			return fmt.Errorf("upsert wallet: %w", err)
		}
		if _, err := qtx.LockWallet(ctx, event.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		credit, err := s.appendEntry(ctx, qtx, AppendEntry{
			WalletID:       event.WalletID,
			Kind:           domain.KindSaleCredit,
			Amount:         event.GrossAmount,
			State:          domain.StatePending,
			HoldUntil:      &holdUntil,
			RelatedOrderID: event.OrderID,
			IdempotencyKey: domain.SaleKey(event.OrderID),
			Cause:          domain.CauseSaleCompleted,
		})
		if err != nil {
			return err
		}
		debit, err := s.appendEntry(ctx, qtx, AppendEntry{
			WalletID:       event.WalletID,
			Kind:           domain.KindCommissionDebit,
			Amount:         -commission.Amount,
			State:          domain.StatePending,
			HoldUntil:      &holdUntil,
			RelatedOrderID: event.OrderID,
			IdempotencyKey: domain.CommissionKey(event.OrderID),
			CommissionRate: commission.Rate.String(),
			Cause:          domain.CauseSaleCompleted,
		})
		if err != nil {
			return err
		}
		result.SaleCreditID = credit.ID
		result.CommissionID = debit.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateSaleEvent) {
			// Lost a race with a concurrent delivery of the same order.
			existing, lookupErr := s.existingSettlement(ctx, s.store.Queries(), event)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		observability.IncrementSaleSettlement("error")
		return nil, err
	}

	s.balances.Invalidate(ctx, event.WalletID)
	observability.IncrementSaleSettlement("settled")
	zap.L().Info("sale settled",
		zap.String("order_id", event.OrderID),
		zap.String("wallet_id", event.WalletID),
		zap.Int64("gross_amount", event.GrossAmount),
		zap.Int64("commission_amount", commission.Amount),
		zap.String("tier", event.SellerTier),
	)
	return result, nil
}

// existingSettlement returns nil, nil when the order has not been settled yet.
func (s *LedgerService) existingSettlement(ctx context.Context, q repository.Querier, event SaleEvent) (*models.SaleSettlement, error) {
	credit, err := q.GetLedgerEntryByKey(ctx, domain.SaleKey(event.OrderID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sale credit: %w", err)
	}
	if credit.WalletID != event.WalletID || credit.Amount != event.GrossAmount {
		return nil, fmt.Errorf("%w: order %s", domain.ErrSaleEventMismatch, event.OrderID)
	}
	debit, err := q.GetLedgerEntryByKey(ctx, domain.CommissionKey(event.OrderID))
	if err != nil {
		return nil, fmt.Errorf("get commission debit: %w", err)
	}

	observability.IncrementSaleSettlement("duplicate")
	zap.L().Info("duplicate sale event ignored", zap.String("order_id", event.OrderID), zap.String("wallet_id", event.WalletID))
	return &models.SaleSettlement{
		OrderID:        event.OrderID,
		WalletID:       credit.WalletID,
		SaleCreditID:   credit.ID,
		CommissionID:   debit.ID,
		Gross:          credit.Amount,
		Commission:     -debit.Amount,
		CommissionRate: debit.CommissionRate,
		Duplicate:      true,
	}, nil
}

// Reverse writes one reversal of the seller's net for an order, in the sale's current state.
// A reversal may drive the available balance negative when the funds were already paid out.
func (s *LedgerService) Reverse(ctx context.Context, orderID, reason string) (*models.Reversal, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", domain.ErrInvalidInput)
	}

	sale, err := s.store.Queries().GetLedgerEntryByKey(ctx, domain.SaleKey(orderID))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrSaleNotFound, orderID)
		}
		return nil, fmt.Errorf("get sale credit: %w", err)
	}

	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return nil, fmt.Errorf("encode reversal metadata: %w", err)
	}

	var (
		result    *models.Reversal
		available int64
	)
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, sale.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}

		if prior, err := qtx.GetLedgerEntryByKey(ctx, domain.ReversalKey(orderID)); err == nil {
			result = &models.Reversal{
				OrderID:   orderID,
				WalletID:  prior.WalletID,
				EntryID:   prior.ID,
				Amount:    prior.Amount,
				State:     prior.State,
				Duplicate: true,
			}
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("get reversal: %w", err)
		}

		entries, err := qtx.ListOrderEntries(ctx, orderID)
		if err != nil {
			return fmt.Errorf("list order entries: %w", err)
		}
		var (
			net       int64
			state     = domain.StatePending
			holdUntil *time.Time
		)
		for _, e := range entries {
			switch e.Kind {
			case domain.KindSaleCredit:
				state = e.State
				holdUntil = e.HoldUntil
				net += e.Amount
			case domain.KindCommissionDebit:
				net += e.Amount
			}
		}
		if state != domain.StatePending {
			holdUntil = nil
		}

		row, err := s.appendEntry(ctx, qtx, AppendEntry{
			WalletID:       sale.WalletID,
			Kind:           domain.KindReversal,
			Amount:         -net,
			State:          state,
			HoldUntil:      holdUntil,
			RelatedOrderID: orderID,
			IdempotencyKey: domain.ReversalKey(orderID),
			Cause:          domain.CauseReversal,
			Metadata:       metadata,
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateSaleEvent) {
				return fmt.Errorf("%w: order %s", domain.ErrDuplicateReversal, orderID)
			}
			return err
		}
		sums, err := qtx.SumWalletBalances(ctx, sale.WalletID)
		if err != nil {
			return fmt.Errorf("sum wallet balances: %w", err)
		}
		available = projectBalances(sums).Available
		result = &models.Reversal{
			OrderID:  orderID,
			WalletID: row.WalletID,
			EntryID:  row.ID,
			Amount:   row.Amount,
			State:    row.State,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		zap.L().Info("duplicate reversal ignored", zap.String("order_id", orderID))
		return result, nil
	}

	s.balances.Invalidate(ctx, sale.WalletID)
	if available < 0 {
		zap.L().Warn("reversal left wallet in deficit",
			zap.String("wallet_id", sale.WalletID),
			zap.String("order_id", orderID),
			zap.Int64("available", available),
		)
	}
	zap.L().Info("sale reversed",
		zap.String("order_id", orderID),
		zap.String("wallet_id", sale.WalletID),
		zap.Int64("amount", result.Amount),
		zap.String("reason", reason),
	)
	return result, nil
}

// Transition moves one entry from one state to another under the wallet lock.
// It reports false without error when the entry is no longer in from.
func (s *LedgerService) Transition(ctx context.Context, entryID, from, to, cause string) (bool, error) {
	if !canTransitionEntry(from, to) {
		return false, fmt.Errorf("%w: ledger transition %s -> %s", domain.ErrInvalidInput, from, to)
	}
	entry, err := s.store.Queries().GetLedgerEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%w: ledger entry %s", domain.ErrInvalidInput, entryID)
		}
		return false, fmt.Errorf("get ledger entry: %w", err)
	}

	var moved bool
	err = s.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, entry.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		var err error
		moved, err = s.transitionEntry(ctx, qtx, entry, from, to, cause)
		return err
	})
	if err != nil {
		return false, err
	}
	if moved {
		s.balances.Invalidate(ctx, entry.WalletID)
	}
	return moved, nil
}

func (s *LedgerService) transitionEntry(ctx context.Context, qtx repository.Querier, entry repository.LedgerEntry, from, to, cause string) (bool, error) {
	rows, err := qtx.TransitionLedgerEntry(ctx, repository.TransitionLedgerEntryParams{
		ID:        entry.ID,
		FromState: from,
		ToState:   to,
		Now:       s.settings.now(),
	})
	if err != nil {
		return false, fmt.Errorf("transition ledger entry %s: %w", entry.ID, err)
	}
	if rows == 0 {
		return false, nil
	}
	if err := requireExactlyOne(rows, "transition ledger entry"); err != nil {
		return false, err
	}
	if err := s.audit.Write(ctx, qtx, domain.EntityLedgerEntry, entry.ID, entry.WalletID, cause, from, to, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Query returns every entry of the wallet in state, newest first. An empty state matches all.
func (s *LedgerService) Query(ctx context.Context, walletID, state string) ([]models.LedgerEntry, error) {
	var (
		out    []models.LedgerEntry
		cursor string
	)
	for {
		rows, err := s.store.Queries().ListLedgerEntries(ctx, repository.ListLedgerEntriesParams{
			WalletID: walletID,
			State:    state,
			BeforeID: cursor,
			Limit:    maxLedgerPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list ledger entries: %w", err)
		}
		for _, row := range rows {
			out = append(out, toLedgerEntryModel(row))
		}
		if len(rows) < maxLedgerPageSize {
			return out, nil
		}
		cursor = rows[len(rows)-1].ID
	}
}

// LedgerFilter narrows a page of ledger history.
type LedgerFilter struct {
	State   string
	Kind    string
	OrderID string
	Before  string
	Limit   int32
}

// ListLedger returns one page of a wallet's history, newest first.
func (s *LedgerService) ListLedger(ctx context.Context, walletID string, filter LedgerFilter) (*models.LedgerPage, error) {
	if filter.State != "" && !isLedgerState(filter.State) {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidInput, filter.State)
	}
	if filter.Kind != "" && !isLedgerKind(filter.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, filter.Kind)
	}
	queries := s.store.Queries()
	if _, err := queries.GetWallet(ctx, walletID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	limit := clampLimit(filter.Limit, defaultLedgerPageSize, maxLedgerPageSize)
	rows, err := queries.ListLedgerEntries(ctx, repository.ListLedgerEntriesParams{
		WalletID: walletID,
		State:    filter.State,
		Kind:     filter.Kind,
		OrderID:  filter.OrderID,
		BeforeID: filter.Before,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}

	page := &models.LedgerPage{Entries: make([]models.LedgerEntry, 0, len(rows))}
	for _, row := range rows {
		page.Entries = append(page.Entries, toLedgerEntryModel(row))
	}
	if int32(len(rows)) == limit {
		page.NextCursor = rows[len(rows)-1].ID
	}
	return page, nil
}

func isLedgerState(state string) bool {
	_, ok := ledgerTransitions[state]
	return ok
}

func isLedgerKind(kind string) bool {
	switch kind {
	case domain.KindSaleCredit, domain.KindCommissionDebit, domain.KindPayoutDebit, domain.KindReversal:
		return true
	}
	return false
}
