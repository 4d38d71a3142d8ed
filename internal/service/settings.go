package service

import (
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
)

// Settings carries the business policy and clock shared by the wallet services.
type Settings struct {
	Currency    string
	EscrowHold  time.Duration
	MinPayout   int64
	Commission  domain.CommissionSchedule
	DefaultTier string

	// Dispatch policy.
	MaxAttempts   int32
	RetryBackoff  time.Duration
	PayoutTimeout time.Duration

	Now func() time.Time
}

// DefaultSettings returns a 7 day hold, a 5000 minor unit minimum and the default tier schedule.
func DefaultSettings() Settings {
	schedule, err := domain.ParseCommissionRates(domain.DefaultCommissionRates)
	if err != nil {
		panic(err)
	}
	return Settings{
		Currency:      "USD",
		EscrowHold:    7 * 24 * time.Hour,
		MinPayout:     5000,
		Commission:    schedule,
		DefaultTier:   domain.TierStandard,
		MaxAttempts:   5,
		RetryBackoff:  time.Minute,
		PayoutTimeout: 24 * time.Hour,
		Now:           time.Now,
	}
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
