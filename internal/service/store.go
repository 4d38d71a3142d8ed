package service

import (
	"context"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
)

// QueryStore is the persistence contract of the wallet services. The pgx store and the
// gorm store both satisfy it. Inside RunInTx only the Querier handed to fn may be used.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

// AdapterRegistry resolves the provider adapter of a payout rail.
type AdapterRegistry interface {
	Get(method domain.PayoutMethod) (provider.Adapter, error)
}

var (
	_ AdapterRegistry = (*provider.Registry)(nil)
	_ QueryStore      = (*repository.Store)(nil)
)
