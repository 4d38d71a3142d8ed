package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WalletHandler serves the seller's balance summary and transaction history.
type WalletHandler struct {
	balances *service.BalanceProjector
	ledger   *service.LedgerService
}

func NewWalletHandler(balances *service.BalanceProjector, ledger *service.LedgerService) *WalletHandler {
	return &WalletHandler{balances: balances, ledger: ledger}
}

// GetSummary handles GET /v1/wallets/{wallet_id}/summary.
func (h *WalletHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	summary, err := h.balances.Summary(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err, "wallet summary", zap.String("wallet_id", walletID))
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// ListLedger handles GET /v1/wallets/{wallet_id}/ledger?state=&kind=&order_id=&before=&limit=.
func (h *WalletHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	limit, ok := queryInt(r, "limit", 0, 1)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
		return
	}

	q := r.URL.Query()
	page, err := h.ledger.ListLedger(r.Context(), walletID, service.LedgerFilter{
		State:   strings.TrimSpace(q.Get("state")),
		Kind:    strings.TrimSpace(q.Get("kind")),
		OrderID: strings.TrimSpace(q.Get("order_id")),
		Before:  strings.TrimSpace(q.Get("before")),
		Limit:   limit,
	})
	if err != nil {
		respondServiceError(w, r, err, "list ledger", zap.String("wallet_id", walletID))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	RespondJSON(w, http.StatusOK, page)
}
