package api

import (
	"net/http"

	"github.com/ayo6706/marketplace-wallet/internal/api/handler"
	"github.com/ayo6706/marketplace-wallet/internal/api/middleware"
	"github.com/ayo6706/marketplace-wallet/internal/api/spec"
	"github.com/ayo6706/marketplace-wallet/internal/idempotency"
	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services are the wallet operations exposed over HTTP.
type Services struct {
	Ledger    *service.LedgerService
	Balances  *service.BalanceProjector
	Payouts   *service.PayoutOrchestrator
	Callbacks *service.CallbackService
}

const defaultCallbackRateLimitRPS = 50

type Options struct {
	PublicRateLimitRPS   int
	AuthRateLimitRPS     int
	CallbackRateLimitRPS int
}

type Router struct {
	opts      Options
	logger    *zap.Logger
	db        handler.Pinger
	redis     redis.Cmdable
	idemStore *idempotency.Store
	svc       Services
}

// NewRouter accepts a nil redis client and a nil idempotency store.
func NewRouter(opts Options, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, idemStore *idempotency.Store, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallbackRateLimitRPS <= 0 {
		opts.CallbackRateLimitRPS = defaultCallbackRateLimitRPS
	}
	return &Router{opts: opts, logger: logger, db: db, redis: redis, idemStore: idemStore, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	health := handler.NewHealthHandler(api.db, api.redis)
	sales := handler.NewSaleHandler(api.svc.Ledger)
	wallets := handler.NewWalletHandler(api.svc.Balances, api.svc.Ledger)
	payouts := handler.NewPayoutHandler(api.svc.Payouts)
	callbacks := handler.NewCallbackHandler(api.svc.Callbacks)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.opts.PublicRateLimitRPS))
		r.Get("/healthz", health.Live)
		r.Get("/readyz", health.Ready)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get(spec.DocumentPath, spec.OpenAPIHandler())
		r.Get("/docs/*", spec.SwaggerUI())
	})

	// Provider webhooks authenticate by signature, not by token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CallbackRateLimiter(api.opts.CallbackRateLimitRPS))
		r.Post("/payouts/{rail}/callback", callbacks.HandleCallback)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.opts.AuthRateLimitRPS))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin))
			r.Post("/v1/sale-events", sales.CreateSaleEvent)
			r.Post("/v1/sale-events/{order_id}/reversal", sales.ReverseSale)
		})

		r.Route("/v1/wallets/{wallet_id}", func(r chi.Router) {
			r.Use(middleware.RequireWalletAccess)
			r.Get("/summary", wallets.GetSummary)
			r.Get("/ledger", wallets.ListLedger)
			r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).Post("/payouts", payouts.CreatePayout)
			r.Get("/payouts", payouts.ListPayouts)
			r.Get("/payouts/{payout_id}", payouts.GetPayout)
			r.Get("/payout-methods", payouts.ListPayoutMethods)
			r.Put("/payout-methods/{method}", payouts.PutPayoutMethod)
		})
	})

	return r
}
