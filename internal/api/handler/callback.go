package handler

import (
	"io"
	"net/http"

	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CallbackHandler receives provider webhooks. Each adapter verifies its own signature.
type CallbackHandler struct {
	callbacks *service.CallbackService
}

func NewCallbackHandler(callbacks *service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// HandleCallback handles POST /payouts/{rail}/callback.
// Duplicate and stale deliveries are acknowledged with 200 so the provider stops retrying.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	rail := chi.URLParam(r, "rail")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	event, err := h.callbacks.HandleCallback(r.Context(), rail, body, r.Header)
	if err != nil {
		respondServiceError(w, r, err, "handle provider callback", zap.String("rail", rail))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":   "received",
		"event_id": event.EventID,
		"outcome":  string(event.Outcome),
	})
}
