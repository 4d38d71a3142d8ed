package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SaleHandler receives completed-sale and reversal events from checkout and refund collaborators.
type SaleHandler struct {
	ledger *service.LedgerService
}

func NewSaleHandler(ledger *service.LedgerService) *SaleHandler {
	return &SaleHandler{ledger: ledger}
}

type saleEventRequest struct {
	OrderID     string `json:"order_id"`
	WalletID    string `json:"wallet_id"`
	GrossAmount int64  `json:"gross_amount"`
	SellerTier  string `json:"seller_tier"`
}

// CreateSaleEvent handles POST /v1/sale-events.
// A repeated order_id returns the original settlement with 200.
func (h *SaleHandler) CreateSaleEvent(w http.ResponseWriter, r *http.Request) {
	var req saleEventRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	settlement, err := h.ledger.SettleSale(r.Context(), service.SaleEvent{
		OrderID:     req.OrderID,
		WalletID:    req.WalletID,
		GrossAmount: req.GrossAmount,
		SellerTier:  req.SellerTier,
	})
	if err != nil {
		respondServiceError(w, r, err, "settle sale", zap.String("order_id", req.OrderID))
		return
	}

	status := http.StatusCreated
	if settlement.Duplicate {
		status = http.StatusOK
	}
	RespondJSON(w, status, settlement)
}

type reversalRequest struct {
	Reason string `json:"reason"`
}

// ReverseSale handles POST /v1/sale-events/{order_id}/reversal.
func (h *SaleHandler) ReverseSale(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(chi.URLParam(r, "order_id"))
	var req reversalRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	reversal, err := h.ledger.Reverse(r.Context(), orderID, req.Reason)
	if err != nil {
		respondServiceError(w, r, err, "reverse sale", zap.String("order_id", orderID))
		return
	}

	status := http.StatusCreated
	if reversal.Duplicate {
		status = http.StatusOK
	}
	RespondJSON(w, status, reversal)
}
