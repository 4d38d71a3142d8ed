package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Wallet represents the wallets table.
type Wallet struct {
	ID        string    `gorm:"primaryKey"`
	Tier      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	ID              string     `gorm:"primaryKey"`
	WalletID        string     `gorm:"not null;index:idx_ledger_entries_wallet_id"`
	Kind            string     `gorm:"not null"`
	Amount          int64      `gorm:"not null"`
	Currency        string     `gorm:"not null"`
	State           string     `gorm:"not null;index:idx_ledger_entries_due,priority:1"`
	HoldUntil       *time.Time `gorm:"index:idx_ledger_entries_due,priority:2"`
	RelatedOrderID  string     `gorm:"not null;default:'';index:idx_ledger_entries_order"`
	RelatedPayoutID string     `gorm:"not null;default:''"`
	IdempotencyKey  string     `gorm:"not null;uniqueIndex"`
	CommissionRate  string     `gorm:"not null;default:''"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// PayoutRequest mirrors the payout_requests table.
type PayoutRequest struct {
	ID                string     `gorm:"primaryKey"`
	WalletID          string     `gorm:"not null;index:idx_payout_requests_wallet"`
	Amount            int64      `gorm:"not null"`
	Currency          string     `gorm:"not null"`
	Method            string     `gorm:"not null;index:idx_payout_requests_reference,priority:1"`
	Destination       string     `gorm:"not null"`
	Status            string     `gorm:"not null;index:idx_payout_requests_status"`
	RequestKey        string     `gorm:"not null;uniqueIndex"`
	ProviderReference string     `gorm:"not null;default:'';index:idx_payout_requests_reference,priority:2"`
	FailureReason     string     `gorm:"not null;default:''"`
	Attempts          int32      `gorm:"not null;default:0"`
	RequestedAt       time.Time  `gorm:"not null"`
	DispatchedAt      *time.Time `gorm:""`
	LastAttemptAt     *time.Time `gorm:""`
	ResolvedAt        *time.Time `gorm:""`
	ReleasedAt        *time.Time `gorm:""`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// PayoutAccount mirrors the payout_accounts table.
type PayoutAccount struct {
	WalletID   string    `gorm:"primaryKey"`
	Method     string    `gorm:"primaryKey"`
	Identifier string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (PayoutAccount) TableName() string { return "payout_accounts" }

// AuditLog mirrors the audit_log table.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	EntityType string         `gorm:"not null"`
	EntityID   string         `gorm:"not null;index:idx_audit_log_entity"`
	WalletID   string         `gorm:"not null"`
	Cause      string         `gorm:"not null"`
	PrevState  string         `gorm:"not null;default:''"`
	NextState  string         `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:""`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_log" }

// IdempotencyKey mirrors the idempotency_keys table.
type IdempotencyKey struct {
	IdempotencyKey string    `gorm:"primaryKey"`
	RequestHash    string    `gorm:"not null"`
	Method         string    `gorm:"not null"`
	Path           string    `gorm:"not null"`
	InProgress     bool      `gorm:"not null"`
	ResponseStatus int32     `gorm:"not null;default:0"`
	ResponseBody   []byte    `gorm:""`
	ContentType    string    `gorm:"not null;default:''"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Wallet{}, &LedgerEntry{}, &PayoutRequest{}, &PayoutAccount{}, &AuditLog{}, &IdempotencyKey{}}
}
