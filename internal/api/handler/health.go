package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readinessTimeout = time.Second

// Pinger is satisfied by both stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db    Pinger
	redis redis.Cmdable
}

// NewHealthHandler accepts a nil redis client; readiness then reports redis as disabled.
func NewHealthHandler(db Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Live reports OK while the process can serve HTTP.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready checks the ledger database and, when configured, Redis. Any failed check
// answers 503 with the per-dependency results.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	out := readiness{Status: "ready", Checks: map[string]string{"database": "ok", "redis": "disabled"}}
	if err := h.db.Ping(ctx); err != nil {
		zap.L().Warn("readiness: database ping failed", zap.Error(err))
		out.Checks["database"] = "unavailable"
		out.Status = "unavailable"
	}
	if h.redis != nil {
		out.Checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			zap.L().Warn("readiness: redis ping failed", zap.Error(err))
			out.Checks["redis"] = "unavailable"
			out.Status = "unavailable"
		}
	}

	status := http.StatusOK
	if out.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	RespondJSON(w, status, out)
}
