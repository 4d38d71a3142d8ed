package domain

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewEntryID returns a time-sortable ledger entry id.
func NewEntryID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// ProviderIdempotencyKey is the external idempotency key for a payout request.
// It is stable for the lifetime of the request so retries never double-pay.
func ProviderIdempotencyKey(payoutID string) string {
	return "payout-" + payoutID
}

// SaleKey is the ledger idempotency key of the sale credit for an order.
func SaleKey(orderID string) string {
	return "sale:" + orderID
}

// CommissionKey is the ledger idempotency key of the commission debit for an order.
func CommissionKey(orderID string) string {
	return "commission:" + orderID
}

// ReversalKey is the ledger idempotency key of the reversal for an order.
func ReversalKey(orderID string) string {
	return "reversal:" + orderID
}

// PayoutDebitKey is the ledger idempotency key of the debit for a confirmed payout.
func PayoutDebitKey(payoutID string) string {
	return "payout:" + payoutID
}
