package cardpayout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk_test", WebhookSecret: "whsec"})
	require.NoError(t, err)
	return c
}

var testIntent = provider.Intent{
	PayoutID:       "p-1",
	WalletID:       "w-1",
	Amount:         5_000,
	Currency:       "USD",
	Destination:    "tok_visa",
	IdempotencyKey: "payout-p-1",
}

func TestSubmitSendsIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payouts", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "payout-p-1", r.Header.Get("Idempotency-Key"))

		var body payoutRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(5_000), body.Amount)
		assert.Equal(t, "usd", body.Currency)
		assert.Equal(t, "tok_visa", body.Destination)
		assert.Equal(t, "p-1", body.Reference)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"po_123","status":"pending"}`))
	})

	res, err := c.Submit(context.Background(), testIntent)
	require.NoError(t, err)
	require.Equal(t, provider.SubmitAccepted, res.Status)
	require.Equal(t, "po_123", res.Reference)
}

func TestSubmitOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		want      provider.SubmitStatus
		rejected  bool
		transient bool
	}{
		{name: "paid", status: http.StatusOK, body: `{"id":"po_1","status":"paid"}`, want: provider.SubmitPaid},
		{name: "failed_inline", status: http.StatusOK, body: `{"id":"po_1","status":"failed","failure_message":"card expired"}`, rejected: true},
		{name: "declined", status: http.StatusUnprocessableEntity, body: `{"error":{"code":"invalid_destination","message":"no such token"}}`, rejected: true},
		{name: "rate_limited", status: http.StatusTooManyRequests, body: `{}`, transient: true},
		{name: "server_error", status: http.StatusBadGateway, body: ``, transient: true},
		{name: "in_flight", status: http.StatusConflict, body: `{}`, transient: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			res, err := c.Submit(context.Background(), testIntent)
			switch {
			case tc.rejected:
				require.ErrorIs(t, err, domain.ErrProviderRejected)
				require.False(t, provider.IsTransient(err))
			case tc.transient:
				require.ErrorIs(t, err, provider.ErrUnavailable)
				require.True(t, provider.IsTransient(err))
			default:
				require.NoError(t, err)
				require.Equal(t, tc.want, res.Status)
			}
		})
	}
}

func TestSubmitRejectionCarriesReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"account closed"}}`))
	})
	_, err := c.Submit(context.Background(), testIntent)
	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "account closed", perr.Reason)
}

func TestSubmitRetriesReuseKey(t *testing.T) {
	var calls atomic.Int32
	seen := make(chan string, 2)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"po_9","status":"pending"}`))
	})

	_, err := c.Submit(context.Background(), testIntent)
	require.ErrorIs(t, err, provider.ErrUnavailable)
	_, err = c.Submit(context.Background(), testIntent)
	require.NoError(t, err)
	require.Equal(t, <-seen, <-seen)
}

func TestSubmitNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", WebhookSecret: "s"})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), testIntent)
	require.ErrorIs(t, err, provider.ErrUnavailable)
}

func TestHandleCallback(t *testing.T) {
	c, err := New(Config{BaseURL: "http://rail-a.invalid", APIKey: "k", WebhookSecret: "whsec"})
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"payout.paid","data":{"id":"po_123","reference":"p-1"}}`)
	header := http.Header{}
	header.Set(SignatureHeader, Sign("whsec", payload))

	event, err := c.HandleCallback(payload, header)
	require.NoError(t, err)
	require.Equal(t, provider.Event{EventID: "evt_1", PayoutID: "p-1", Reference: "po_123", Outcome: provider.OutcomePaid}, event)

	failed := []byte(`{"id":"evt_2","type":"payout.failed","data":{"id":"po_123","reference":"p-1","failure_message":"card expired"}}`)
	header.Set(SignatureHeader, Sign("whsec", failed))
	event, err = c.HandleCallback(failed, header)
	require.NoError(t, err)
	require.Equal(t, provider.OutcomeFailed, event.Outcome)
	require.Equal(t, "card expired", event.Reason)

	other := []byte(`{"id":"evt_3","type":"balance.updated","data":{}}`)
	header.Set(SignatureHeader, Sign("whsec", other))
	event, err = c.HandleCallback(other, header)
	require.NoError(t, err)
	require.Equal(t, provider.OutcomeIgnored, event.Outcome)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	c, err := New(Config{BaseURL: "http://rail-a.invalid", APIKey: "k", WebhookSecret: "whsec"})
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"payout.paid"}`)
	header := http.Header{}
	header.Set(SignatureHeader, Sign("other", payload))
	_, err = c.HandleCallback(payload, header)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = c.HandleCallback(payload, http.Header{})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	garbage := []byte(`not json`)
	header.Set(SignatureHeader, Sign("whsec", garbage))
	_, err = c.HandleCallback(garbage, header)
	require.ErrorIs(t, err, domain.ErrInvalidCallback)
}

func TestValidateDestination(t *testing.T) {
	c, err := New(Config{BaseURL: "http://rail-a.invalid", APIKey: "k", WebhookSecret: "s"})
	require.NoError(t, err)

	require.NoError(t, c.ValidateDestination("tok_visa"))
	require.NoError(t, c.ValidateDestination("ba_123"))
	require.Error(t, c.ValidateDestination(""))
	require.Error(t, c.ValidateDestination("tok_"))
	require.Error(t, c.ValidateDestination("4242424242424242"))
	require.Error(t, c.ValidateDestination("tok_has space"))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x"})
	require.Error(t, err)
}
