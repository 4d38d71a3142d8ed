package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PayoutHandler handles seller payout requests and payout accounts on file.
type PayoutHandler struct {
	payouts *service.PayoutOrchestrator
}

func NewPayoutHandler(payouts *service.PayoutOrchestrator) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// CreatePayoutRequest represents the request body for creating a payout.
type CreatePayoutRequest struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
}

// CreatePayout handles POST /v1/wallets/{wallet_id}/payouts.
// The funds are reserved synchronously; dispatch to the provider happens in the background.
func (h *PayoutHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	var req CreatePayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	requestKey := ""
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		requestKey = walletID + ":" + key
	}
	payout, err := h.payouts.RequestPayout(r.Context(), service.PayoutInput{
		WalletID:   walletID,
		Amount:     req.Amount,
		Method:     domain.PayoutMethod(strings.TrimSpace(req.Method)),
		RequestKey: requestKey,
	})
	if err != nil {
		respondServiceError(w, r, err, "request payout", zap.String("wallet_id", walletID))
		return
	}
	RespondJSON(w, http.StatusAccepted, payout)
}

// GetPayout handles GET /v1/wallets/{wallet_id}/payouts/{payout_id}.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	payoutID := chi.URLParam(r, "payout_id")
	payout, err := h.payouts.GetPayout(r.Context(), walletID, payoutID)
	if err != nil {
		respondServiceError(w, r, err, "get payout", zap.String("payout_id", payoutID))
		return
	}
	RespondJSON(w, http.StatusOK, payout)
}

// ListPayouts handles GET /v1/wallets/{wallet_id}/payouts?status=&limit=&offset=.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	limit, ok := queryInt(r, "limit", 20, 1)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0, 0)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
		return
	}

	payouts, err := h.payouts.ListPayouts(r.Context(), walletID, strings.TrimSpace(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list payouts", zap.String("wallet_id", walletID))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  payouts,
		"limit":  limit,
		"offset": offset,
		"count":  len(payouts),
	})
}

type payoutMethodRequest struct {
	Identifier string `json:"identifier"`
}

// PutPayoutMethod handles PUT /v1/wallets/{wallet_id}/payout-methods/{method}.
func (h *PayoutHandler) PutPayoutMethod(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	method := domain.PayoutMethod(chi.URLParam(r, "method"))
	var req payoutMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	account, err := h.payouts.RegisterPayoutAccount(r.Context(), walletID, method, req.Identifier)
	if err != nil {
		respondServiceError(w, r, err, "register payout account", zap.String("wallet_id", walletID), zap.String("rail", string(method)))
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// ListPayoutMethods handles GET /v1/wallets/{wallet_id}/payout-methods.
func (h *PayoutHandler) ListPayoutMethods(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	accounts, err := h.payouts.ListPayoutAccounts(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err, "list payout accounts", zap.String("wallet_id", walletID))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": accounts})
}
