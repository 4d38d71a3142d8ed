package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCommissionRates is the tier schedule used when none is configured.
const DefaultCommissionRates = "standard=0.10,plus=0.05,pro=0.02"

// CommissionSchedule maps a seller tier to its commission rate.
// It is configuration; the rate applied to a sale is frozen on the commission entry.
type CommissionSchedule struct {
	rates map[string]decimal.Decimal
}

// Commission is the outcome of applying a schedule to one sale.
type Commission struct {
	Amount int64 // minor units, non-negative
	Rate   decimal.Decimal
}

// NewCommissionSchedule validates rates and returns a schedule.
func NewCommissionSchedule(rates map[string]decimal.Decimal) (CommissionSchedule, error) {
	if len(rates) == 0 {
		return CommissionSchedule{}, fmt.Errorf("commission schedule is empty")
	}
	out := make(map[string]decimal.Decimal, len(rates))
	for tier, rate := range rates {
		tier = strings.ToLower(strings.TrimSpace(tier))
		if tier == "" {
			return CommissionSchedule{}, fmt.Errorf("commission schedule has empty tier")
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return CommissionSchedule{}, fmt.Errorf("commission rate for %q must be in [0, 1): %s", tier, rate)
		}
		out[tier] = rate
	}
	return CommissionSchedule{rates: out}, nil
}

// ParseCommissionRates parses "tier=rate,tier=rate" into a schedule.
func ParseCommissionRates(raw string) (CommissionSchedule, error) {
	rates := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tier, value, ok := strings.Cut(part, "=")
		if !ok {
			return CommissionSchedule{}, fmt.Errorf("invalid commission rate %q: expected tier=rate", part)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return CommissionSchedule{}, fmt.Errorf("invalid commission rate for %q: %w", tier, err)
		}
		rates[tier] = rate
	}
	return NewCommissionSchedule(rates)
}

// Rate returns the rate configured for tier.
func (s CommissionSchedule) Rate(tier string) (decimal.Decimal, error) {
	rate, ok := s.rates[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return rate, nil
}

// Tiers returns the configured tiers in lexical order.
func (s CommissionSchedule) Tiers() []string {
	tiers := make([]string, 0, len(s.rates))
	for tier := range s.rates {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	return tiers
}

// Calculate computes the commission owed on a gross sale amount for tier.
// The result is rounded half away from zero to the nearest minor unit.
func (s CommissionSchedule) Calculate(gross int64, tier string) (Commission, error) {
	if gross <= 0 {
		return Commission{}, fmt.Errorf("%w: gross amount must be positive", ErrInvalidAmount)
	}
	rate, err := s.Rate(tier)
	if err != nil {
		return Commission{}, err
	}
	amount := decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	return Commission{Amount: amount, Rate: rate}, nil
}
