package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/marketplace-wallet/internal/api/problem"
	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes a problem document for slug.
func RespondError(w http.ResponseWriter, r *http.Request, status int, slug, message string) {
	problem.Write(w, r, status, slug, "", message)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type errorMapping struct {
	target error
	status int
	slug   string
}

// errorMappings is ordered: the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInsufficientAvailableBalance, http.StatusUnprocessableEntity, "payout/insufficient-available-balance"},
	{domain.ErrBelowMinimumPayout, http.StatusUnprocessableEntity, "payout/below-minimum"},
	{domain.ErrPayoutMethodNotConfigured, http.StatusUnprocessableEntity, "payout/method-not-configured"},
	{domain.ErrUnsupportedMethod, http.StatusBadRequest, "payout/unsupported-method"},
	{domain.ErrConcurrentReservationConflict, http.StatusConflict, "payout/concurrent-reservation"},
	{domain.ErrIdempotencyConflict, http.StatusConflict, "idempotency/key-conflict"},
	{domain.ErrSaleEventMismatch, http.StatusConflict, "sale/event-mismatch"},
	{domain.ErrDuplicateReversal, http.StatusConflict, "sale/already-reversed"},
	{domain.ErrWalletNotFound, http.StatusNotFound, "wallet/not-found"},
	{domain.ErrSaleNotFound, http.StatusNotFound, "sale/not-found"},
	{domain.ErrPayoutNotFound, http.StatusNotFound, "payout/not-found"},
	{domain.ErrUnknownTier, http.StatusBadRequest, "sale/unknown-tier"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "request/invalid-amount"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "request/invalid-input"},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "callback/invalid-signature"},
	{domain.ErrInvalidCallback, http.StatusBadRequest, "callback/invalid"},
	{service.ErrPayoutAlreadyResolved, http.StatusConflict, "payout/already-resolved"},
}

// respondServiceError maps domain errors to problem documents and hides everything else behind a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, operation string, fields ...zap.Field) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.slug, err.Error())
			return
		}
	}
	zap.L().Error(operation+" failed", append(fields, zap.Error(err))...)
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

// queryInt rejects values that are not integers, fall below min or overflow int32.
func queryInt(r *http.Request, name string, def, min int32) (int32, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < int64(min) {
		return 0, false
	}
	return int32(n), true
}
