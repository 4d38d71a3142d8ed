package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
)

// ErrUnavailable marks a transient provider failure; the submit may be retried
// with the same idempotency key.
var ErrUnavailable = errors.New("payout provider unavailable")

// Intent is the rail-independent description of one payout.
type Intent struct {
	PayoutID       string
	WalletID       string
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
}

// SubmitStatus is the provider's answer to an accepted submit.
type SubmitStatus string

const (
	// SubmitAccepted means the transfer is in flight; the outcome arrives by callback.
	SubmitAccepted SubmitStatus = "accepted"
	// SubmitPaid means the provider settled the transfer synchronously.
	SubmitPaid SubmitStatus = "paid"
)

type SubmitResult struct {
	Status    SubmitStatus
	Reference string
}

// Outcome is the normalized result carried by a callback.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
	// OutcomeIgnored is returned for provider events the engine does not act on.
	OutcomeIgnored Outcome = "ignored"
)

// Event is a provider callback normalized for the payout orchestrator.
// PayoutID is set when the provider echoes our id; otherwise Reference identifies the payout.
type Event struct {
	EventID   string
	PayoutID  string
	Reference string
	Outcome   Outcome
	Reason    string
}

// Adapter translates payout intents to one external rail and normalizes its callbacks.
// Adapters never change payout state themselves.
type Adapter interface {
	Method() domain.PayoutMethod
	ValidateDestination(identifier string) error
	// Submit returns a *domain.ProviderError for rejections and wraps ErrUnavailable
	// for failures that may be retried.
	Submit(ctx context.Context, intent Intent) (SubmitResult, error)
	// HandleCallback verifies and parses a raw webhook delivery.
	HandleCallback(payload []byte, header http.Header) (Event, error)
}

// Registry resolves the adapter for a payout method.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.PayoutMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.PayoutMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Method()] = a
}

func (r *Registry) Get(method domain.PayoutMethod) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, method)
	}
	return a, nil
}

// Methods lists the registered rails in lexical order.
func (r *Registry) Methods() []domain.PayoutMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PayoutMethod, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTransient reports whether a submit error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, domain.ErrProviderRejected)
}

// TransientStatus reports whether an HTTP status from a provider should be retried.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusConflict || code >= http.StatusInternalServerError
}

// Unavailable wraps cause as a retryable provider failure.
func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
