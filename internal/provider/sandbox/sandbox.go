// Package sandbox simulates a payout rail for local runs and tests. Submits are accepted
// after a random delay and settled later through a signed callback delivered to a Sink.
package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of a sandbox callback body.
const SignatureHeader = "X-Sandbox-Signature"

// Sink receives simulated callbacks exactly as a webhook endpoint would.
type Sink func(ctx context.Context, method domain.PayoutMethod, payload []byte, header http.Header) error

type Config struct {
	Method domain.PayoutMethod
	Secret string
	// MinDelay and MaxDelay bound the simulated network latency of Submit.
	MinDelay time.Duration
	MaxDelay time.Duration
	// CallbackDelay is how long after an accepted submit the outcome is delivered.
	CallbackDelay time.Duration
	// FailureRate is the probability that Submit returns a transient error.
	FailureRate float64
	// RejectRate is the probability that an accepted payout is later failed by callback.
	RejectRate float64
	Seed       int64
}

// Adapter is an in-process payout rail.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	rng  *rand.Rand
	sink Sink
	// accepted maps an idempotency key to the reference minted for it.
	accepted map[string]string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var _ provider.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.Secret == "" {
		cfg.Secret = "sandbox"
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:      cfg,
		logger:   zap.L().With(zap.String("component", "sandbox"), zap.String("method", string(cfg.Method))),
		rng:      rand.New(rand.NewSource(seed)),
		accepted: make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetSink wires the callback receiver. Without a sink accepted payouts stay dispatched.
func (a *Adapter) SetSink(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// Close stops pending callback deliveries and waits for in-flight ones.
func (a *Adapter) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *Adapter) Method() domain.PayoutMethod {
	return a.cfg.Method
}

func (a *Adapter) ValidateDestination(identifier string) error {
	if strings.TrimSpace(identifier) == "" || len(identifier) > 128 {
		return errors.New("destination must be 1-128 characters")
	}
	return nil
}

// Submit replays the original reference for a repeated idempotency key and schedules no
// second callback.
func (a *Adapter) Submit(ctx context.Context, intent provider.Intent) (provider.SubmitResult, error) {
	delay, fail, reject := a.roll()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return provider.SubmitResult{}, ctx.Err()
		}
	}
	if fail {
		return provider.SubmitResult{}, provider.Unavailable("sandbox temporarily unavailable")
	}

	ref, replayed := a.reference(intent.IdempotencyKey)
	if replayed {
		a.logger.Debug("sandbox submit replayed", zap.String("payout_id", intent.PayoutID), zap.String("reference", ref))
		return provider.SubmitResult{Status: provider.SubmitAccepted, Reference: ref}, nil
	}
	msg := callback{
		EventID:   ulid.Make().String(),
		PayoutID:  intent.PayoutID,
		Reference: ref,
		Outcome:   provider.OutcomePaid,
	}
	if reject {
		msg.Outcome = provider.OutcomeFailed
		msg.Reason = "sandbox_declined"
	}
	a.deliverLater(msg)
	return provider.SubmitResult{Status: provider.SubmitAccepted, Reference: ref}, nil
}

func (a *Adapter) reference(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref, ok := a.accepted[key]; ok && key != "" {
		return ref, true
	}
	ref := "SBX-" + ulid.Make().String()
	if key != "" {
		a.accepted[key] = ref
	}
	return ref, false
}

func (a *Adapter) roll() (time.Duration, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delay := a.cfg.MinDelay
	if span := a.cfg.MaxDelay - a.cfg.MinDelay; span > 0 {
		delay += time.Duration(a.rng.Int63n(int64(span)))
	}
	return delay, a.rng.Float64() < a.cfg.FailureRate, a.rng.Float64() < a.cfg.RejectRate
}

type callback struct {
	EventID   string           `json:"event_id"`
	PayoutID  string           `json:"payout_id"`
	Reference string           `json:"reference"`
	Outcome   provider.Outcome `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
}

func (a *Adapter) deliverLater(msg callback) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(a.cfg.CallbackDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			return
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			a.logger.Error("encode sandbox callback", zap.Error(err))
			return
		}
		header := http.Header{}
		header.Set(SignatureHeader, Sign(a.cfg.Secret, payload))
		if err := sink(a.ctx, a.cfg.Method, payload, header); err != nil {
			a.logger.Warn("sandbox callback not applied",
				zap.String("payout_id", msg.PayoutID),
				zap.String("outcome", string(msg.Outcome)),
				zap.Error(err),
			)
		}
	}()
}

func (a *Adapter) HandleCallback(payload []byte, header http.Header) (provider.Event, error) {
	if !hmac.Equal([]byte(header.Get(SignatureHeader)), []byte(Sign(a.cfg.Secret, payload))) {
		return provider.Event{}, domain.ErrInvalidSignature
	}
	var msg callback
	if err := json.Unmarshal(payload, &msg); err != nil {
		return provider.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	if msg.EventID == "" {
		return provider.Event{}, fmt.Errorf("%w: missing event id", domain.ErrInvalidCallback)
	}
	switch msg.Outcome {
	case provider.OutcomePaid, provider.OutcomeFailed, provider.OutcomePending:
	default:
		msg.Outcome = provider.OutcomeIgnored
	}
	return provider.Event{
		EventID:   msg.EventID,
		PayoutID:  msg.PayoutID,
		Reference: msg.Reference,
		Outcome:   msg.Outcome,
		Reason:    msg.Reason,
	}, nil
}

func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
