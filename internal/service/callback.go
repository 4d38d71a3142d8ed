package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"go.uber.org/zap"
)

// CallbackService verifies provider webhook deliveries and hands the normalized event to the orchestrator.
type CallbackService struct {
	adapters     AdapterRegistry
	orchestrator *PayoutOrchestrator
}

func NewCallbackService(adapters AdapterRegistry, orchestrator *PayoutOrchestrator) *CallbackService {
	return &CallbackService{adapters: adapters, orchestrator: orchestrator}
}

// HandleCallback processes one raw delivery for rail. Adapters report bad signatures as
// domain.ErrInvalidSignature and unparsable bodies as domain.ErrInvalidCallback.
func (s *CallbackService) HandleCallback(ctx context.Context, rail string, payload []byte, header http.Header) (provider.Event, error) {
	method := domain.PayoutMethod(rail)
	if !method.Valid() {
		observability.IncrementProviderCallback(rail, "unsupported")
		return provider.Event{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, rail)
	}
	adapter, err := s.adapters.Get(method)
	if err != nil {
		observability.IncrementProviderCallback(rail, "unsupported")
		return provider.Event{}, err
	}

	event, err := adapter.HandleCallback(payload, header)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, domain.ErrInvalidSignature) {
			outcome = "bad_signature"
		}
		observability.IncrementProviderCallback(rail, outcome)
		zap.L().Warn("provider callback rejected", zap.String("rail", rail), zap.Error(err))
		return provider.Event{}, err
	}
	if event.Outcome == provider.OutcomeIgnored {
		observability.IncrementProviderCallback(rail, "ignored")
		return event, nil
	}

	if err := s.orchestrator.ApplyEvent(ctx, method, event); err != nil {
		observability.IncrementProviderCallback(rail, "error")
		return event, err
	}
	observability.IncrementProviderCallback(rail, string(event.Outcome))
	zap.L().Info("provider callback applied",
		zap.String("rail", rail),
		zap.String("event_id", event.EventID),
		zap.String("payout_id", event.PayoutID),
		zap.String("provider_reference", event.Reference),
		zap.String("outcome", string(event.Outcome)),
	)
	return event, nil
}
