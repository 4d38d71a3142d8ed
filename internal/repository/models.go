package repository

import "time"

type Wallet struct {
	ID        string
	Tier      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type LedgerEntry struct {
	ID              string
	WalletID        string
	Kind            string
	Amount          int64
	Currency        string
	State           string
	HoldUntil       *time.Time
	RelatedOrderID  string
	RelatedPayoutID string
	IdempotencyKey  string
	CommissionRate  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PayoutRequest struct {
	ID                string
	WalletID          string
	Amount            int64
	Currency          string
	Method            string
	Destination       string
	Status            string
	RequestKey        string
	ProviderReference string
	FailureReason     string
	Attempts          int32
	RequestedAt       time.Time
	DispatchedAt      *time.Time
	LastAttemptAt     *time.Time
	ResolvedAt        *time.Time
	ReleasedAt        *time.Time
	UpdatedAt         time.Time
}

type PayoutAccount struct {
	WalletID   string
	Method     string
	Identifier string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WalletBalances is the signed per-state fold of a wallet's ledger.
type WalletBalances struct {
	Available int64 // state = available
	Pending   int64 // state = pending
	Settled   int64 // state = settled
	Reserved  int64 // payout requests in reserved or dispatched
	Confirmed int64 // payout requests in confirmed
}

// WalletKindSums is the signed per-kind fold of a wallet's ledger.
type WalletKindSums struct {
	SaleCredits      int64
	CommissionDebits int64
	Reversals        int64
	PayoutDebits     int64
}

// DueSale identifies one order whose pending entries have passed their hold.
type DueSale struct {
	WalletID       string
	RelatedOrderID string
}
