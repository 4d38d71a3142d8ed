package models

import (
	"time"
)

type LedgerEntry struct {
	ID              string     `json:"id"`
	WalletID        string     `json:"wallet_id"`
	Kind            string     `json:"kind"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	State           string     `json:"state"`
	HoldUntil       *time.Time `json:"hold_until,omitempty"`
	RelatedOrderID  string     `json:"related_order_id,omitempty"`
	RelatedPayoutID string     `json:"related_payout_id,omitempty"`
	CommissionRate  string     `json:"commission_rate,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type LedgerPage struct {
	Entries    []LedgerEntry `json:"entries"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type WalletSummary struct {
	WalletID      string     `json:"wallet_id"`
	Currency      string     `json:"currency"`
	Available     int64      `json:"available"`
	Pending       int64      `json:"pending"`
	Reserved      int64      `json:"reserved"`
	NextReleaseAt *time.Time `json:"next_release_at,omitempty"`
}

type PayoutRequest struct {
	ID                string     `json:"id"`
	WalletID          string     `json:"wallet_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Method            string     `json:"method"`
	Status            string     `json:"status"`
	ProviderReference string     `json:"provider_reference,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	Attempts          int32      `json:"attempts"`
	RequestedAt       time.Time  `json:"requested_at"`
	DispatchedAt      *time.Time `json:"dispatched_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

type PayoutAccount struct {
	WalletID   string    `json:"wallet_id"`
	Method     string    `json:"method"`
	Identifier string    `json:"identifier"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type SaleSettlement struct {
	OrderID        string `json:"order_id"`
	WalletID       string `json:"wallet_id"`
	SaleCreditID   string `json:"sale_credit_id"`
	CommissionID   string `json:"commission_debit_id"`
	Gross          int64  `json:"gross_amount"`
	Commission     int64  `json:"commission_amount"`
	CommissionRate string `json:"commission_rate"`
	Duplicate      bool   `json:"duplicate"`
}

type Reversal struct {
	OrderID   string `json:"order_id"`
	WalletID  string `json:"wallet_id"`
	EntryID   string `json:"reversal_id"`
	Amount    int64  `json:"amount"`
	State     string `json:"state"`
	Duplicate bool   `json:"duplicate"`
}
