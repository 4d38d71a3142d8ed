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
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPayoutAlreadyResolved is returned when a resolver loses the race to a terminal status.
var ErrPayoutAlreadyResolved = errors.New("payout already resolved")

const (
	reservationAttempts   = 2
	defaultPayoutPageSize = 20
	maxPayoutPageSize     = 100
)

// PayoutOrchestrator drives payout requests through reserved, dispatched and a terminal status.
// It never holds a wallet lock across a provider call.
type PayoutOrchestrator struct {
	store    QueryStore
	adapters AdapterRegistry
	ledger   *LedgerService
	balances *BalanceProjector
	audit    *AuditService
	settings Settings
}

func NewPayoutOrchestrator(store QueryStore, adapters AdapterRegistry, ledger *LedgerService, balances *BalanceProjector, settings Settings) *PayoutOrchestrator {
	return &PayoutOrchestrator{
		store:    store,
		adapters: adapters,
		ledger:   ledger,
		balances: balances,
		audit:    NewAuditService(settings),
		settings: settings,
	}
}

// PayoutInput is a seller's payout request. RequestKey makes the request idempotent; one is
// generated when empty.
type PayoutInput struct {
	WalletID   string
	Amount     int64
	Method     domain.PayoutMethod
	RequestKey string
}

func (in PayoutInput) matches(p repository.PayoutRequest) bool {
	return p.WalletID == in.WalletID && p.Amount == in.Amount && p.Method == string(in.Method)
}

// RequestPayout validates the request and reserves the amount against the available balance.
func (o *PayoutOrchestrator) RequestPayout(ctx context.Context, in PayoutInput) (*models.PayoutRequest, error) {
	in.WalletID = strings.TrimSpace(in.WalletID)
	in.RequestKey = strings.TrimSpace(in.RequestKey)
	if in.WalletID == "" {
		return nil, fmt.Errorf("%w: wallet_id is required", domain.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, in.Amount)
	}
	if in.Amount < o.settings.MinPayout {
		return nil, fmt.Errorf("%w: minimum is %d", domain.ErrBelowMinimumPayout, o.settings.MinPayout)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, in.Method)
	}
	if _, err := o.adapters.Get(in.Method); err != nil {
		return nil, err
	}

	if in.RequestKey != "" {
		existing, err := o.existingRequest(ctx, in)
		if err != nil || existing != nil {
			return existing, err
		}
	} else {
		in.RequestKey = uuid.NewString()
	}

	var (
		row repository.PayoutRequest
		err error
	)
	for attempt := 1; attempt <= reservationAttempts; attempt++ {
		row, err = o.reserve(ctx, in)
		if !errors.Is(err, repository.ErrSerialization) {
			break
		}
		zap.L().Warn("payout reservation conflicted; retrying",
			zap.String("wallet_id", in.WalletID),
			zap.Int("attempt", attempt),
		)
	}
	switch {
	case errors.Is(err, repository.ErrSerialization):
		return nil, fmt.Errorf("%w: wallet %s", domain.ErrConcurrentReservationConflict, in.WalletID)
	case errors.Is(err, repository.ErrUniqueViolation):
		existing, lookupErr := o.existingRequest(ctx, in)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return existing, nil
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	o.balances.Invalidate(ctx, in.WalletID)
	observability.IncrementPayoutTransition(row.Method, row.Status, domain.CausePayoutRequested)
	zap.L().Info("payout reserved",
		zap.String("payout_id", row.ID),
		zap.String("wallet_id", row.WalletID),
		zap.String("rail", row.Method),
		zap.Int64("amount", row.Amount),
	)
	return toPayoutModel(row), nil
}

// existingRequest returns nil, nil when no request carries the key.
func (o *PayoutOrchestrator) existingRequest(ctx context.Context, in PayoutInput) (*models.PayoutRequest, error) {
	existing, err := o.store.Queries().GetPayoutRequestByKey(ctx, in.RequestKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout by key: %w", err)
	}
	if !in.matches(existing) {
		return nil, fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, in.RequestKey)
	}
	return toPayoutModel(existing), nil
}

func (o *PayoutOrchestrator) reserve(ctx context.Context, in PayoutInput) (repository.PayoutRequest, error) {
	var row repository.PayoutRequest
	err := o.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, in.WalletID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}

		account, err := qtx.GetPayoutAccount(ctx, in.WalletID, string(in.Method))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrPayoutMethodNotConfigured, in.Method)
			}
			return fmt.Errorf("get payout account: %w", err)
		}

		balances, err := computeBalances(ctx, qtx, in.WalletID)
		if err != nil {
			return err
		}
		if balances.Available < in.Amount {
			return fmt.Errorf("%w: available %d, requested %d", domain.ErrInsufficientAvailableBalance, balances.Available, in.Amount)
		}

		row, err = qtx.InsertPayoutRequest(ctx, repository.InsertPayoutRequestParams{
			ID:          uuid.NewString(),
			WalletID:    in.WalletID,
			Amount:      in.Amount,
			Currency:    o.settings.Currency,
			Method:      string(in.Method),
			Destination: account.Identifier,
			Status:      domain.PayoutStatusReserved,
			RequestKey:  in.RequestKey,
			RequestedAt: o.settings.now(),
		})
		if err != nil {
			return fmt.Errorf("insert payout request: %w", err)
		}
		return o.audit.Write(ctx, qtx, domain.EntityPayoutRequest, row.ID, row.WalletID, domain.CausePayoutRequested,
			domain.PayoutStatusRequested, domain.PayoutStatusReserved, nil)
	})
	return row, err
}

// DispatchPending claims reserved requests and due retries, submits each to its rail
// and returns how many were submitted.
func (o *PayoutOrchestrator) DispatchPending(ctx context.Context, batchSize int32) (int, error) {
	claimed, err := o.claim(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, payout := range claimed {
		// Unsubmitted claims stay dispatched without a reference and are picked up again after the backoff.
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		if err := o.submit(ctx, payout); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return submitted, err
			}
			zap.L().Error("payout dispatch failed", zap.String("payout_id", payout.ID), zap.Error(err))
			continue
		}
		submitted++
	}
	return submitted, nil
}

func (o *PayoutOrchestrator) claim(ctx context.Context, batchSize int32) ([]repository.PayoutRequest, error) {
	now := o.settings.now()
	var payouts []repository.PayoutRequest
	err := o.store.RunInTx(ctx, func(qtx repository.Querier) error {
		var err error
		payouts, err = qtx.ClaimDispatchablePayouts(ctx, repository.ClaimDispatchablePayoutsParams{
			RetryBefore: now.Add(-o.settings.RetryBackoff),
			MaxAttempts: o.settings.MaxAttempts,
			Limit:       batchSize,
		})
		if err != nil {
			return fmt.Errorf("claim dispatchable payouts: %w", err)
		}

		for i, payout := range payouts {
			if !canTransitionPayout(payout.Status, domain.PayoutStatusDispatched) {
				return fmt.Errorf("claimed payout %s in status %s", payout.ID, payout.Status)
			}
			rows, err := qtx.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
				ID:                payout.ID,
				From:              []string{payout.Status},
				To:                domain.PayoutStatusDispatched,
				DispatchedAt:      &now,
				LastAttemptAt:     &now,
				IncrementAttempts: true,
				Now:               now,
			})
			if err != nil {
				return fmt.Errorf("mark payout dispatched: %w", err)
			}
			if err := requireExactlyOne(rows, "mark payout dispatched"); err != nil {
				return err
			}
			if err := o.audit.Write(ctx, qtx, domain.EntityPayoutRequest, payout.ID, payout.WalletID, domain.CauseDispatchClaim,
				payout.Status, domain.PayoutStatusDispatched, nil); err != nil {
				return err
			}
			payouts[i].Status = domain.PayoutStatusDispatched
			payouts[i].Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, payout := range payouts {
		observability.IncrementPayoutTransition(payout.Method, payout.Status, domain.CauseDispatchClaim)
	}
	return payouts, nil
}

func (o *PayoutOrchestrator) submit(ctx context.Context, payout repository.PayoutRequest) error {
	adapter, err := o.adapters.Get(domain.PayoutMethod(payout.Method))
	if err != nil {
		_, failErr := o.fail(ctx, payout.ID, domain.ReasonProviderUnavailable, domain.CauseDispatchClaim)
		return errors.Join(err, failErr)
	}

	start := time.Now()
	result, err := adapter.Submit(ctx, provider.Intent{
		PayoutID:       payout.ID,
		WalletID:       payout.WalletID,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Destination:    payout.Destination,
		IdempotencyKey: domain.ProviderIdempotencyKey(payout.ID),
	})
	elapsed := time.Since(start)

	switch {
	case err == nil && result.Status == provider.SubmitPaid:
		observability.ObserveProviderSubmit(payout.Method, "paid", elapsed)
		return o.confirm(ctx, payout.ID, result.Reference, domain.CauseProviderSync)

	case err == nil:
		observability.ObserveProviderSubmit(payout.Method, "accepted", elapsed)
		if result.Reference == "" {
			zap.L().Warn("provider accepted payout without reference", zap.String("payout_id", payout.ID), zap.String("rail", payout.Method))
			return nil
		}
		return o.recordReference(ctx, payout.ID, result.Reference)

	case ctx.Err() != nil:
		observability.ObserveProviderSubmit(payout.Method, "canceled", elapsed)
		return ctx.Err()

	case !provider.IsTransient(err):
		observability.ObserveProviderSubmit(payout.Method, "rejected", elapsed)
		_, failErr := o.fail(ctx, payout.ID, rejectionReason(err), domain.CauseProviderRejected)
		return failErr

	default:
		observability.ObserveProviderSubmit(payout.Method, "transient", elapsed)
		if payout.Attempts >= o.settings.MaxAttempts {
			zap.L().Warn("payout retries exhausted",
				zap.String("payout_id", payout.ID),
				zap.Int32("attempts", payout.Attempts),
				zap.Error(err),
			)
			_, failErr := o.fail(ctx, payout.ID, domain.ReasonProviderTimeout, domain.CauseRetryExhausted)
			return failErr
		}
		zap.L().Warn("payout submit failed; will retry",
			zap.String("payout_id", payout.ID),
			zap.String("rail", payout.Method),
			zap.Int32("attempts", payout.Attempts),
			zap.Error(err),
		)
		return nil
	}
}

func rejectionReason(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Reason != "" {
		return domain.ReasonProviderRejected + ": " + perr.Reason
	}
	return domain.ReasonProviderRejected
}

func (o *PayoutOrchestrator) recordReference(ctx context.Context, payoutID, reference string) error {
	rows, err := o.store.Queries().SetPayoutProviderReference(ctx, repository.SetPayoutProviderReferenceParams{
		ID:                payoutID,
		ProviderReference: reference,
		Now:               o.settings.now(),
	})
	if err != nil {
		return fmt.Errorf("set provider reference: %w", err)
	}
	if rows == 0 {
		zap.L().Debug("provider reference not recorded; payout already resolved or referenced", zap.String("payout_id", payoutID))
	}
	return nil
}

// Confirm marks a dispatched request confirmed and writes its settled payout debit in one transaction.
// Confirming an already confirmed request is a no-op.
func (o *PayoutOrchestrator) Confirm(ctx context.Context, payoutID, reference, cause string) error {
	return o.confirm(ctx, payoutID, reference, cause)
}

func (o *PayoutOrchestrator) confirm(ctx context.Context, payoutID, reference, cause string) error {
	snapshot, err := o.getPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	now := o.settings.now()
	var (
		payout   repository.PayoutRequest
		resolved bool
	)
	err = o.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, snapshot.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		var err error
		payout, err = qtx.GetPayoutRequestForUpdate(ctx, payoutID)
		if err != nil {
			return fmt.Errorf("lock payout request: %w", err)
		}
		if isTerminalPayout(payout.Status) {
			resolved = true
			return nil
		}
		if !canTransitionPayout(payout.Status, domain.PayoutStatusConfirmed) {
			return fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidCallback, payoutID, payout.Status)
		}

		rows, err := qtx.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
			ID:                payoutID,
			From:              payoutSources(domain.PayoutStatusConfirmed),
			To:                domain.PayoutStatusConfirmed,
			ResolvedAt:        &now,
			ProviderReference: reference,
			Now:               now,
		})
		if err != nil {
			return fmt.Errorf("mark payout confirmed: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout confirmed"); err != nil {
			return err
		}

		if _, err := o.ledger.appendEntry(ctx, qtx, AppendEntry{
			WalletID:        payout.WalletID,
			Kind:            domain.KindPayoutDebit,
			Amount:          -payout.Amount,
			State:           domain.StateSettled,
			RelatedPayoutID: payout.ID,
			IdempotencyKey:  domain.PayoutDebitKey(payout.ID),
			Cause:           cause,
		}); err != nil {
			return err
		}
		return o.audit.Write(ctx, qtx, domain.EntityPayoutRequest, payout.ID, payout.WalletID, cause,
			payout.Status, domain.PayoutStatusConfirmed, nil)
	})
	if err != nil {
		return err
	}

	if resolved {
		if payout.Status == domain.PayoutStatusConfirmed {
			return nil
		}
		observability.IncrementLateConfirmation(payout.Method)
		zap.L().Error("provider confirmed payout after it was failed; funds were already released",
			zap.String("payout_id", payout.ID),
			zap.String("wallet_id", payout.WalletID),
			zap.String("rail", payout.Method),
			zap.String("provider_reference", reference),
			zap.String("failure_reason", payout.FailureReason),
		)
		return fmt.Errorf("%w: payout %s is %s", ErrPayoutAlreadyResolved, payout.ID, payout.Status)
	}

	o.balances.Invalidate(ctx, payout.WalletID)
	observability.IncrementPayoutTransition(payout.Method, domain.PayoutStatusConfirmed, cause)
	zap.L().Info("payout confirmed",
		zap.String("payout_id", payout.ID),
		zap.String("wallet_id", payout.WalletID),
		zap.String("rail", payout.Method),
		zap.String("provider_reference", reference),
		zap.String("cause", cause),
	)
	return nil
}

// Fail marks a reserved or dispatched request failed and releases its reservation.
// Failing an already failed request is a no-op.
func (o *PayoutOrchestrator) Fail(ctx context.Context, payoutID, reason, cause string) error {
	_, err := o.fail(ctx, payoutID, reason, cause)
	return err
}

// fail reports whether this call performed the transition.
func (o *PayoutOrchestrator) fail(ctx context.Context, payoutID, reason, cause string) (bool, error) {
	snapshot, err := o.getPayout(ctx, payoutID)
	if err != nil {
		return false, err
	}
	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return false, fmt.Errorf("encode failure metadata: %w", err)
	}

	now := o.settings.now()
	var (
		payout  repository.PayoutRequest
		changed bool
	)
	err = o.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.LockWallet(ctx, snapshot.WalletID); err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		var err error
		payout, err = qtx.GetPayoutRequestForUpdate(ctx, payoutID)
		if err != nil {
			return fmt.Errorf("lock payout request: %w", err)
		}
		switch payout.Status {
		case domain.PayoutStatusFailed:
			return nil
		case domain.PayoutStatusConfirmed:
			return fmt.Errorf("%w: payout %s is %s", ErrPayoutAlreadyResolved, payoutID, payout.Status)
		}

		rows, err := qtx.TransitionPayoutRequest(ctx, repository.TransitionPayoutRequestParams{
			ID:            payoutID,
			From:          payoutSources(domain.PayoutStatusFailed),
			To:            domain.PayoutStatusFailed,
			ResolvedAt:    &now,
			ReleasedAt:    &now,
			FailureReason: reason,
			Now:           now,
		})
		if err != nil {
			return fmt.Errorf("mark payout failed: %w", err)
		}
		if err := requireExactlyOne(rows, "mark payout failed"); err != nil {
			return err
		}
		changed = true
		return o.audit.Write(ctx, qtx, domain.EntityPayoutRequest, payout.ID, payout.WalletID, cause,
			payout.Status, domain.PayoutStatusFailed, metadata)
	})
	if err != nil || !changed {
		return false, err
	}

	o.balances.Invalidate(ctx, payout.WalletID)
	observability.IncrementPayoutTransition(payout.Method, domain.PayoutStatusFailed, cause)
	zap.L().Warn("payout failed; reservation released",
		zap.String("payout_id", payout.ID),
		zap.String("wallet_id", payout.WalletID),
		zap.String("rail", payout.Method),
		zap.String("reason", reason),
		zap.String("cause", cause),
	)
	return true, nil
}

// ApplyEvent resolves a normalized provider callback against its payout request.
// Duplicate and out-of-order deliveries are absorbed by the status compare-and-swap.
func (o *PayoutOrchestrator) ApplyEvent(ctx context.Context, method domain.PayoutMethod, event provider.Event) error {
	payout, err := o.resolveEvent(ctx, method, event)
	if err != nil {
		return err
	}

	switch event.Outcome {
	case provider.OutcomePaid:
		reference := event.Reference
		if reference == "" {
			reference = payout.ProviderReference
		}
		err = o.confirm(ctx, payout.ID, reference, domain.CauseProviderCallback)
	case provider.OutcomeFailed:
		reason := domain.ReasonProviderRejected
		if event.Reason != "" {
			reason += ": " + event.Reason
		}
		_, err = o.fail(ctx, payout.ID, reason, domain.CauseProviderCallback)
	case provider.OutcomePending:
		if event.Reference != "" {
			err = o.recordReference(ctx, payout.ID, event.Reference)
		}
	case provider.OutcomeIgnored:
		return nil
	default:
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidCallback, event.Outcome)
	}

	if errors.Is(err, ErrPayoutAlreadyResolved) {
		zap.L().Warn("provider callback ignored for resolved payout",
			zap.String("payout_id", payout.ID),
			zap.String("event_id", event.EventID),
			zap.String("outcome", string(event.Outcome)),
		)
		return nil
	}
	return err
}

func (o *PayoutOrchestrator) resolveEvent(ctx context.Context, method domain.PayoutMethod, event provider.Event) (repository.PayoutRequest, error) {
	queries := o.store.Queries()
	var (
		payout repository.PayoutRequest
		err    error
	)
	switch {
	case event.PayoutID != "":
		payout, err = queries.GetPayoutRequest(ctx, event.PayoutID)
	case event.Reference != "":
		payout, err = queries.GetPayoutRequestByReference(ctx, string(method), event.Reference)
	default:
		return repository.PayoutRequest{}, fmt.Errorf("%w: event carries no payout id or reference", domain.ErrInvalidCallback)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.PayoutRequest{}, domain.ErrPayoutNotFound
		}
		return repository.PayoutRequest{}, fmt.Errorf("resolve payout: %w", err)
	}
	if payout.Method != string(method) {
		return repository.PayoutRequest{}, fmt.Errorf("%w: payout %s is not on %s", domain.ErrInvalidCallback, payout.ID, method)
	}
	return payout, nil
}

// SweepTimedOut fails dispatched requests with no resolution inside the payout timeout.
func (o *PayoutOrchestrator) SweepTimedOut(ctx context.Context, batchSize int32) (int, error) {
	cutoff := o.settings.now().Add(-o.settings.PayoutTimeout)
	stale, err := o.store.Queries().ListTimedOutPayouts(ctx, repository.ListTimedOutPayoutsParams{
		DispatchedBefore: cutoff,
		Limit:            batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list timed out payouts: %w", err)
	}

	var (
		released int
		errs     []error
	)
	for _, payout := range stale {
		changed, err := o.fail(ctx, payout.ID, domain.ReasonProviderTimeout, domain.CauseTimeoutSweep)
		if err != nil {
			if errors.Is(err, ErrPayoutAlreadyResolved) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if changed {
			released++
		}
	}
	if released > 0 {
		zap.L().Warn("timed out payouts released", zap.Int("count", released))
	}
	return released, errors.Join(errs...)
}

func (o *PayoutOrchestrator) getPayout(ctx context.Context, payoutID string) (repository.PayoutRequest, error) {
	payout, err := o.store.Queries().GetPayoutRequest(ctx, payoutID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.PayoutRequest{}, fmt.Errorf("%w: %s", domain.ErrPayoutNotFound, payoutID)
		}
		return repository.PayoutRequest{}, fmt.Errorf("get payout request: %w", err)
	}
	return payout, nil
}

// GetPayout returns a wallet's payout request.
func (o *PayoutOrchestrator) GetPayout(ctx context.Context, walletID, payoutID string) (*models.PayoutRequest, error) {
	payout, err := o.getPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.WalletID != walletID {
		return nil, fmt.Errorf("%w: %s", domain.ErrPayoutNotFound, payoutID)
	}
	return toPayoutModel(payout), nil
}

// ListPayouts returns a wallet's payout requests, newest first. An empty status matches all.
func (o *PayoutOrchestrator) ListPayouts(ctx context.Context, walletID, status string, limit, offset int32) ([]models.PayoutRequest, error) {
	if status != "" {
		if _, ok := payoutTransitions[status]; !ok || status == domain.PayoutStatusRequested {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
		}
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := o.store.Queries().ListPayoutRequests(ctx, repository.ListPayoutRequestsParams{
		WalletID: walletID,
		Status:   status,
		Limit:    clampLimit(limit, defaultPayoutPageSize, maxPayoutPageSize),
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list payout requests: %w", err)
	}
	out := make([]models.PayoutRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, *toPayoutModel(row))
	}
	return out, nil
}

// RegisterPayoutAccount stores the external account identifier for one rail, creating the
// wallet if the seller has not sold anything yet.
func (o *PayoutOrchestrator) RegisterPayoutAccount(ctx context.Context, walletID string, method domain.PayoutMethod, identifier string) (*models.PayoutAccount, error) {
	walletID = strings.TrimSpace(walletID)
	identifier = strings.TrimSpace(identifier)
	if walletID == "" {
		return nil, fmt.Errorf("%w: wallet_id is required", domain.ErrInvalidInput)
	}
	adapter, err := o.adapters.Get(method)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateDestination(identifier); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	now := o.settings.now()
	var account repository.PayoutAccount
	err = o.store.RunInTx(ctx, func(qtx repository.Querier) error {
		if _, err := qtx.EnsureWallet(ctx, repository.UpsertWalletParams{ID: walletID, Tier: o.settings.DefaultTier, Now: now}); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}
		var err error
		account, err = qtx.UpsertPayoutAccount(ctx, repository.UpsertPayoutAccountParams{
			WalletID:   walletID,
			Method:     string(method),
			Identifier: identifier,
			Now:        now,
		})
		if err != nil {
			return fmt.Errorf("upsert payout account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("payout method registered", zap.String("wallet_id", walletID), zap.String("rail", string(method)))
	out := toPayoutAccountModel(account)
	return &out, nil
}

func (o *PayoutOrchestrator) ListPayoutAccounts(ctx context.Context, walletID string) ([]models.PayoutAccount, error) {
	rows, err := o.store.Queries().ListPayoutAccounts(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("list payout accounts: %w", err)
	}
	out := make([]models.PayoutAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPayoutAccountModel(row))
	}
	return out, nil
}
