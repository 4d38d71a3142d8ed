package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/cache"
	"github.com/ayo6706/marketplace-wallet/internal/config"
	"github.com/ayo6706/marketplace-wallet/internal/db"
	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/idempotency"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/ayo6706/marketplace-wallet/internal/provider/cardpayout"
	"github.com/ayo6706/marketplace-wallet/internal/provider/paypal"
	"github.com/ayo6706/marketplace-wallet/internal/provider/sandbox"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"github.com/ayo6706/marketplace-wallet/internal/repository/gormstore"
	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the persistence contract the container hands to the services and health checks.
type Store interface {
	service.QueryStore
	Ping(ctx context.Context) error
}

// Container owns every long-lived dependency of the wallet engine.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Store       Store
	Redis       *redis.Client
	Idempotency *idempotency.Store

	Balances       *service.BalanceProjector
	Ledger         *service.LedgerService
	Escrow         *service.EscrowScheduler
	Payouts        *service.PayoutOrchestrator
	Callbacks      *service.CallbackService
	Reconciliation *service.ReconciliationService

	closers []func()
}

// NewContainer connects the store and Redis, builds the provider registry and wires the services.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.closers = append(c.closers, closeStore)

	var balanceCache service.BalanceCache
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Redis = client
		c.closers = append(c.closers, func() { _ = client.Close() })
		balanceCache = cache.NewBalanceCache(client, cfg.BalanceCacheTTL)
	} else {
		logger.Warn("REDIS_URL not set; balance cache disabled, idempotency served from the database")
	}

	var idemRedis redis.Cmdable
	if c.Redis != nil {
		idemRedis = c.Redis
	}
	c.Idempotency = idempotency.NewStore(idemRedis, store, cfg.IdempotencyTTL)

	registry, sandboxes, err := buildRegistry(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	settings := settingsFrom(cfg)
	c.Balances = service.NewBalanceProjector(store, balanceCache, settings)
	c.Ledger = service.NewLedgerService(store, c.Balances, settings)
	c.Escrow = service.NewEscrowScheduler(store, c.Ledger, c.Balances, settings)
	c.Payouts = service.NewPayoutOrchestrator(store, registry, c.Ledger, c.Balances, settings)
	c.Callbacks = service.NewCallbackService(registry, c.Payouts)
	c.Reconciliation = service.NewReconciliationService(store)

	for _, sb := range sandboxes {
		sb.SetSink(func(ctx context.Context, method domain.PayoutMethod, payload []byte, header http.Header) error {
			_, err := c.Callbacks.HandleCallback(ctx, string(method), payload, header)
			return err
		})
		// Registered last so pending callbacks stop before the store closes.
		c.closers = append(c.closers, sb.Close)
	}
	logger.Info("providers configured",
		zap.String("mode", cfg.ProviderMode),
		zap.Any("rails", registry.Methods()),
	)
	return c, nil
}

// Close releases resources in reverse acquisition order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	if gormstore.IsSQLite(cfg.DatabaseURL) || cfg.StoreBackend == config.StoreBackendGorm {
		store, err := gormstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return repository.NewStore(pool), pool.Close, nil
}

func buildRegistry(cfg *config.Config) (*provider.Registry, []*sandbox.Adapter, error) {
	if cfg.ProviderMode == config.ProviderModeSandbox {
		railA := sandbox.New(sandbox.Config{
			Method:        domain.MethodRailA,
			MinDelay:      50 * time.Millisecond,
			MaxDelay:      300 * time.Millisecond,
			CallbackDelay: 2 * time.Second,
			FailureRate:   0.05,
			RejectRate:    0.05,
		})
		railB := sandbox.New(sandbox.Config{
			Method:        domain.MethodRailB,
			MinDelay:      100 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			CallbackDelay: 5 * time.Second,
			FailureRate:   0.05,
			RejectRate:    0.05,
		})
		return provider.NewRegistry(railA, railB), []*sandbox.Adapter{railA, railB}, nil
	}

	railA, err := cardpayout.New(cardpayout.Config{
		BaseURL:       cfg.RailA.BaseURL,
		APIKey:        cfg.RailA.APIKey,
		WebhookSecret: cfg.RailA.WebhookSecret,
		Timeout:       cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure rail_a: %w", err)
	}
	railB, err := paypal.New(paypal.Config{
		BaseURL:       cfg.RailB.BaseURL,
		ClientID:      cfg.RailB.ClientID,
		ClientSecret:  cfg.RailB.ClientSecret,
		WebhookID:     cfg.RailB.WebhookID,
		WebhookSecret: cfg.RailB.WebhookSecret,
		Timeout:       cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure rail_b: %w", err)
	}
	return provider.NewRegistry(railA, railB), nil, nil
}

func settingsFrom(cfg *config.Config) service.Settings {
	return service.Settings{
		Currency:      cfg.Currency,
		EscrowHold:    cfg.EscrowHold,
		MinPayout:     cfg.MinPayoutMinor,
		Commission:    cfg.CommissionRates,
		DefaultTier:   cfg.DefaultTier,
		MaxAttempts:   cfg.DispatchMaxAttempts,
		RetryBackoff:  cfg.DispatchRetryBackoff,
		PayoutTimeout: cfg.PayoutTimeout,
		Now:           time.Now,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
