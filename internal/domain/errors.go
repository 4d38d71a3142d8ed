package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the wallet engine.
var (
	ErrInsufficientAvailableBalance  = errors.New("insufficient available balance")
	ErrBelowMinimumPayout            = errors.New("amount below minimum payout threshold")
	ErrPayoutMethodNotConfigured     = errors.New("payout method not configured")
	ErrDuplicateSaleEvent            = errors.New("duplicate sale event")
	ErrProviderRejected              = errors.New("provider rejected payout")
	ErrProviderTimeout               = errors.New("provider timeout")
	ErrConcurrentReservationConflict = errors.New("concurrent reservation conflict")

	ErrSaleEventMismatch   = errors.New("sale event does not match recorded sale")
	ErrDuplicateReversal   = errors.New("sale already reversed")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrPayoutNotFound      = errors.New("payout request not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedMethod   = errors.New("unsupported payout method")
	ErrUnknownTier         = errors.New("unknown seller tier")
	ErrInvalidCallback     = errors.New("invalid provider callback")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")
)

// ProviderError carries the provider-supplied reason for a failed payout.
type ProviderError struct {
	Kind   error
	Reason string
}

func (e *ProviderError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// Rejected builds a ProviderRejected(reason) error.
func Rejected(reason string) error {
	return &ProviderError{Kind: ErrProviderRejected, Reason: reason}
}
