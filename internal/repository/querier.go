package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrSerialization   = errors.New("serialization failure")
)

type UpsertWalletParams struct {
	ID   string
	Tier string
	Now  time.Time
}

type InsertLedgerEntryParams struct {
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
}

type ListLedgerEntriesParams struct {
	WalletID string
	State    string // optional
	Kind     string // optional
	OrderID  string // optional
	BeforeID string // optional cursor, exclusive
	Limit    int32
}

type TransitionLedgerEntryParams struct {
	ID        string
	FromState string
	ToState   string
	Now       time.Time
}

type ListDueSalesParams struct {
	Now   time.Time
	Limit int32
}

type InsertPayoutRequestParams struct {
	ID          string
	WalletID    string
	Amount      int64
	Currency    string
	Method      string
	Destination string
	Status      string
	RequestKey  string
	RequestedAt time.Time
}

type ListPayoutRequestsParams struct {
	WalletID string
	Status   string // optional
	Limit    int32
	Offset   int32
}

type ClaimDispatchablePayoutsParams struct {
	RetryBefore time.Time // dispatched rows without a reference are retried once last_attempt_at <= RetryBefore
	MaxAttempts int32
	Limit       int32
}

// TransitionPayoutRequestParams guards a status change with the set of states it may leave.
// Nil timestamps and empty strings leave the column unchanged.
type TransitionPayoutRequestParams struct {
	ID                string
	From              []string
	To                string
	DispatchedAt      *time.Time
	LastAttemptAt     *time.Time
	ResolvedAt        *time.Time
	ReleasedAt        *time.Time
	IncrementAttempts bool
	FailureReason     string
	ProviderReference string
	Now               time.Time
}

type SetPayoutProviderReferenceParams struct {
	ID                string
	ProviderReference string
	Now               time.Time
}

type ListTimedOutPayoutsParams struct {
	DispatchedBefore time.Time
	Limit            int32
}

type UpsertPayoutAccountParams struct {
	WalletID   string
	Method     string
	Identifier string
	Now        time.Time
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   string
	WalletID   string
	Cause      string
	PrevState  string
	NextState  string
	Metadata   []byte
	CreatedAt  time.Time
}

type AuditLog struct {
	ID         int64
	EntityType string
	EntityID   string
	WalletID   string
	Cause      string
	PrevState  string
	NextState  string
	Metadata   []byte
	CreatedAt  time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	Now            time.Time
}

type FinalizeIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	Now            time.Time
}

// Querier is the persistence contract shared by the pgx and gorm stores.
// Lookups return ErrNotFound when no row matches. Unique and serialization
// failures are reported as ErrUniqueViolation and ErrSerialization.
type Querier interface {
	// UpsertWallet creates the wallet or records the tier last seen for it.
	UpsertWallet(ctx context.Context, arg UpsertWalletParams) (Wallet, error)
	// EnsureWallet creates the wallet with arg.Tier if missing and leaves an existing tier alone.
	EnsureWallet(ctx context.Context, arg UpsertWalletParams) (Wallet, error)
	GetWallet(ctx context.Context, id string) (Wallet, error)
	// LockWallet takes the per-wallet row lock for the rest of the transaction.
	LockWallet(ctx context.Context, id string) (Wallet, error)
	ListWalletIDs(ctx context.Context, afterID string, limit int32) ([]string, error)

	InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (LedgerEntry, error)
	GetLedgerEntry(ctx context.Context, id string) (LedgerEntry, error)
	GetLedgerEntryByKey(ctx context.Context, idempotencyKey string) (LedgerEntry, error)
	ListOrderEntries(ctx context.Context, orderID string) ([]LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]LedgerEntry, error)
	// TransitionLedgerEntry is a compare-and-swap on state and reports rows affected.
	TransitionLedgerEntry(ctx context.Context, arg TransitionLedgerEntryParams) (int64, error)
	ListDueSales(ctx context.Context, arg ListDueSalesParams) ([]DueSale, error)
	SumWalletBalances(ctx context.Context, walletID string) (WalletBalances, error)
	SumWalletKinds(ctx context.Context, walletID string) (WalletKindSums, error)
	// NextReleaseAt returns nil when the wallet has no pending entries.
	NextReleaseAt(ctx context.Context, walletID string) (*time.Time, error)

	InsertPayoutRequest(ctx context.Context, arg InsertPayoutRequestParams) (PayoutRequest, error)
	GetPayoutRequest(ctx context.Context, id string) (PayoutRequest, error)
	GetPayoutRequestForUpdate(ctx context.Context, id string) (PayoutRequest, error)
	GetPayoutRequestByKey(ctx context.Context, requestKey string) (PayoutRequest, error)
	GetPayoutRequestByReference(ctx context.Context, method, reference string) (PayoutRequest, error)
	ListPayoutRequests(ctx context.Context, arg ListPayoutRequestsParams) ([]PayoutRequest, error)
	// ClaimDispatchablePayouts locks claimable rows, skipping rows locked by other workers.
	ClaimDispatchablePayouts(ctx context.Context, arg ClaimDispatchablePayoutsParams) ([]PayoutRequest, error)
	// TransitionPayoutRequest is a compare-and-swap on status and reports rows affected.
	TransitionPayoutRequest(ctx context.Context, arg TransitionPayoutRequestParams) (int64, error)
	SetPayoutProviderReference(ctx context.Context, arg SetPayoutProviderReferenceParams) (int64, error)
	ListTimedOutPayouts(ctx context.Context, arg ListTimedOutPayoutsParams) ([]PayoutRequest, error)
	CountPayoutsByStatus(ctx context.Context) (map[string]int64, error)

	UpsertPayoutAccount(ctx context.Context, arg UpsertPayoutAccountParams) (PayoutAccount, error)
	GetPayoutAccount(ctx context.Context, walletID, method string) (PayoutAccount, error)
	ListPayoutAccounts(ctx context.Context, walletID string) ([]PayoutAccount, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error)
	ListAuditLogs(ctx context.Context, entityID string) ([]AuditLog, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	// ReserveIdempotencyKey reports false when the key is already taken.
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
}
