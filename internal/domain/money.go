package domain

import "github.com/shopspring/decimal"

// minorPerMajor is the number of minor units in one major unit of the system currency.
const minorPerMajor = 100

// Money represents a signed amount of the single system currency.
// Amount is stored as BIGINT minor units (cents) to avoid floating point errors.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the minor units to a decimal in major units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(minorPerMajor))
}
