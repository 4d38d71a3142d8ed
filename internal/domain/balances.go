package domain

// Balances is the projection of a wallet's ledger shown to the seller.
type Balances struct {
	Available int64 `json:"available"`
	Pending   int64 `json:"pending"`
	Reserved  int64 `json:"reserved"`
}
