package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	idempotencyCounter       *prometheus.CounterVec
	workerRunCounter         *prometheus.CounterVec
	saleSettlementCounter    *prometheus.CounterVec
	escrowPromotionCounter   prometheus.Counter
	payoutTransitionCounter  *prometheus.CounterVec
	payoutStatusGauge        *prometheus.GaugeVec
	providerCallDuration     *prometheus.HistogramVec
	providerCallbackCounter  *prometheus.CounterVec
	reconciliationViolations *prometheus.CounterVec
	lateConfirmationCounter  *prometheus.CounterVec
	balanceCacheCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		saleSettlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_sale_settlements_total",
			Help: "Completed-sale events by outcome",
		}, []string{"outcome"})

		escrowPromotionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_escrow_promotions_total",
			Help: "Ledger entries promoted from pending to available",
		})

		payoutTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_payout_transitions_total",
			Help: "Payout request status transitions",
		}, []string{"method", "status", "cause"})

		payoutStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallet_payout_requests",
			Help: "Payout requests by current status",
		}, []string{"status"})

		providerCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_provider_submit_duration_seconds",
			Help:    "Payout provider submit latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "outcome"})

		providerCallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_provider_callbacks_total",
			Help: "Payout provider callbacks by outcome",
		}, []string{"method", "outcome"})

		reconciliationViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_reconciliation_violations_total",
			Help: "Wallet ledger integrity violations found by reconciliation",
		}, []string{"check"})

		lateConfirmationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_payout_late_confirmations_total",
			Help: "Provider confirmations received after the payout was already failed",
		}, []string{"method"})

		balanceCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_balance_cache_events_total",
			Help: "Balance projection cache lookups and rejected stale writes",
		}, []string{"result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			workerRunCounter,
			saleSettlementCounter,
			escrowPromotionCounter,
			payoutTransitionCounter,
			payoutStatusGauge,
			providerCallDuration,
			providerCallbackCounter,
			reconciliationViolations,
			lateConfirmationCounter,
			balanceCacheCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementSaleSettlement(outcome string) {
	if saleSettlementCounter == nil {
		return
	}
	saleSettlementCounter.WithLabelValues(outcome).Inc()
}

func AddEscrowPromotions(n int) {
	if escrowPromotionCounter == nil || n <= 0 {
		return
	}
	escrowPromotionCounter.Add(float64(n))
}

func IncrementPayoutTransition(method, status, cause string) {
	if payoutTransitionCounter == nil {
		return
	}
	payoutTransitionCounter.WithLabelValues(method, status, cause).Inc()
}

// SetPayoutStatusCounts replaces the per-status gauge values.
func SetPayoutStatusCounts(counts map[string]int64) {
	if payoutStatusGauge == nil {
		return
	}
	payoutStatusGauge.Reset()
	for status, n := range counts {
		payoutStatusGauge.WithLabelValues(status).Set(float64(n))
	}
}

func ObserveProviderSubmit(method, outcome string, duration time.Duration) {
	if providerCallDuration == nil {
		return
	}
	providerCallDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func IncrementProviderCallback(method, outcome string) {
	if providerCallbackCounter == nil {
		return
	}
	providerCallbackCounter.WithLabelValues(method, outcome).Inc()
}

func IncrementReconciliationViolation(check string) {
	if reconciliationViolations == nil {
		return
	}
	reconciliationViolations.WithLabelValues(check).Inc()
}

func IncrementLateConfirmation(method string) {
	if lateConfirmationCounter == nil {
		return
	}
	lateConfirmationCounter.WithLabelValues(method).Inc()
}

func IncrementBalanceCache(result string) {
	if balanceCacheCounter == nil {
		return
	}
	balanceCacheCounter.WithLabelValues(result).Inc()
}
