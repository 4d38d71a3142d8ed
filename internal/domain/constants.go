package domain

// Ledger entry kinds.
const (
	KindSaleCredit      = "sale_credit"
	KindCommissionDebit = "commission_debit"
	KindPayoutDebit     = "payout_debit"
	KindReversal        = "reversal"
)

// Ledger entry states.
const (
	StatePending   = "pending"
	StateAvailable = "available"
	StateSettled   = "settled"
)

// Payout request statuses.
const (
	PayoutStatusRequested  = "requested"
	PayoutStatusReserved   = "reserved"
	PayoutStatusDispatched = "dispatched"
	PayoutStatusConfirmed  = "confirmed"
	PayoutStatusFailed     = "failed"
)

// PayoutMethod names an external payout rail.
type PayoutMethod string

const (
	// MethodRailA is the card-network payout provider.
	MethodRailA PayoutMethod = "rail_a"
	// MethodRailB is the PayPal-style payout provider.
	MethodRailB PayoutMethod = "rail_b"
)

// Valid reports whether the method names a supported rail.
func (m PayoutMethod) Valid() bool {
	return m == MethodRailA || m == MethodRailB
}

// Seller tiers.
const (
	TierStandard = "standard"
	TierPlus     = "plus"
	TierPro      = "pro"
)

// Failure reason codes stored on failed payout requests.
const (
	ReasonProviderRejected    = "provider_rejected"
	ReasonProviderTimeout     = "provider_timeout"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonDestinationMissing  = "destination_missing"
)

// Causes recorded in the audit log; each transition names exactly one.
const (
	CauseSaleCompleted    = "sale_completed"
	CauseEscrowElapsed    = "escrow_elapsed"
	CauseReversal         = "reversal"
	CausePayoutRequested  = "payout_requested"
	CauseDispatchClaim    = "dispatch_claim"
	CauseProviderSync     = "provider_sync"
	CauseProviderCallback = "provider_callback"
	CauseProviderRejected = "provider_rejected"
	CauseTimeoutSweep     = "timeout_sweep"
	CauseRetryExhausted   = "retry_exhausted"
)

// Audit entity types.
const (
	EntityLedgerEntry   = "ledger_entry"
	EntityPayoutRequest = "payout_request"
)
