package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/api"
	"github.com/ayo6706/marketplace-wallet/internal/api/middleware"
	"github.com/ayo6706/marketplace-wallet/internal/config"
	"github.com/ayo6706/marketplace-wallet/internal/db"
	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/repository/gormstore"
	"github.com/ayo6706/marketplace-wallet/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and the background workers, blocking until shutdown.
func Run(v *viper.Viper) error {
	cfg, logger, err := bootstrap(v)
	if err != nil {
		return err
	}
	defer logger.Sync()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	stops := []func(){
		worker.NewEscrowWorker(c.Escrow).WithInterval(cfg.EscrowInterval).WithBatchSize(cfg.EscrowBatchSize).Run(ctx),
		worker.NewPayoutWorker(c.Payouts).WithInterval(cfg.DispatchInterval).WithBatchSize(cfg.DispatchBatchSize).Run(ctx),
		worker.NewSweepWorker(c.Payouts).WithInterval(cfg.SweepInterval).Run(ctx),
		worker.NewReconciliationWorker(c.Reconciliation).WithInterval(cfg.ReconciliationInterval).Run(ctx),
	}
	logger.Info("workers started",
		zap.Duration("escrow_interval", cfg.EscrowInterval),
		zap.Duration("dispatch_interval", cfg.DispatchInterval),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval),
	)

	var redisClient redis.Cmdable
	if c.Redis != nil {
		redisClient = c.Redis
	}
	router := api.NewRouter(api.Options{
		PublicRateLimitRPS:   cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:     cfg.AuthRateLimitRPS,
		CallbackRateLimitRPS: cfg.CallbackRateLimitRPS,
	}, logger, c.Store, redisClient, c.Idempotency, api.Services{
		Ledger:    c.Ledger,
		Balances:  c.Balances,
		Payouts:   c.Payouts,
		Callbacks: c.Callbacks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	for _, stop := range stops {
		stop()
	}
	cancel()

	logger.Info("shutdown complete")
	return nil
}

// Migrate applies the schema for the configured store and exits.
func Migrate(v *viper.Viper) error {
	cfg, logger, err := bootstrap(v)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if gormstore.IsSQLite(cfg.DatabaseURL) || cfg.StoreBackend == config.StoreBackendGorm {
		store, err := gormstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrated", zap.String("backend", config.StoreBackendGorm))
		return store.Close()
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema migrated", zap.String("backend", config.StoreBackendPgx))
	return nil
}

// SweepOnce runs one pass of every background job and exits. It suits cron-style
// deployments that do not keep the workers resident.
func SweepOnce(v *viper.Viper) error {
	cfg, logger, err := bootstrap(v)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return RunJobsOnce(ctx, c)
}

// RunJobsOnce promotes due holds, dispatches reserved payouts, fails timed-out ones and
// reconciles the ledger, in that order.
func RunJobsOnce(ctx context.Context, c *Container) error {
	cfg := c.Config
	promoted, err := c.Escrow.PromoteDue(ctx, cfg.EscrowBatchSize)
	if err != nil {
		return fmt.Errorf("promote due holds: %w", err)
	}
	dispatched, err := c.Payouts.DispatchPending(ctx, cfg.DispatchBatchSize)
	if err != nil {
		return fmt.Errorf("dispatch payouts: %w", err)
	}
	swept, err := c.Payouts.SweepTimedOut(ctx, cfg.DispatchBatchSize)
	if err != nil {
		return fmt.Errorf("sweep timed out payouts: %w", err)
	}
	violations, err := c.Reconciliation.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	c.Logger.Info("sweep complete",
		zap.Int("promoted", promoted),
		zap.Int("dispatched", dispatched),
		zap.Int("timed_out", swept),
		zap.Int("violations", len(violations)),
	)
	if len(violations) > 0 {
		return fmt.Errorf("reconciliation found %d violations", len(violations))
	}
	return nil
}

func bootstrap(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	if v == nil {
		v = viper.New()
	}
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	observability.Init()
	return cfg, logger, nil
}
