// Package cardpayout adapts the card-network payout API (rail_a).
package cardpayout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Signature"

var destinationPrefixes = []string{"tok_", "card_", "ba_"}

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client submits payouts over HTTPS and verifies signed webhooks.
type Client struct {
	baseURL    string
	apiKey     string
	secret     []byte
	httpClient *http.Client
}

var _ provider.Adapter = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("cardpayout: base url, api key and webhook secret are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.WebhookSecret),
		httpClient: httpClient,
	}, nil
}

func (c *Client) Method() domain.PayoutMethod {
	return domain.MethodRailA
}

// ValidateDestination accepts tokenized card or bank account identifiers.
func (c *Client) ValidateDestination(identifier string) error {
	if identifier == "" {
		return errors.New("destination token is required")
	}
	if len(identifier) > 64 || strings.ContainsAny(identifier, " \t\r\n") {
		return errors.New("destination token is malformed")
	}
	for _, prefix := range destinationPrefixes {
		if strings.HasPrefix(identifier, prefix) && len(identifier) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("destination token must start with one of %s", strings.Join(destinationPrefixes, ", "))
}

type payoutRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type payoutResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit creates a payout. The idempotency key is sent on every attempt so the
// provider collapses retries into one transfer.
func (c *Client) Submit(ctx context.Context, intent provider.Intent) (provider.SubmitResult, error) {
	body, err := json.Marshal(payoutRequest{
		Amount:      intent.Amount,
		Currency:    strings.ToLower(intent.Currency),
		Destination: intent.Destination,
		Reference:   intent.PayoutID,
		Metadata:    map[string]string{"wallet_id": intent.WalletID},
	})
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("encode payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", intent.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return provider.SubmitResult{}, ctx.Err()
		}
		return provider.SubmitResult{}, provider.Unavailable("rail_a request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.SubmitResult{}, provider.Unavailable("rail_a read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out payoutResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return provider.SubmitResult{}, provider.Unavailable("rail_a decode response: %v", err)
		}
		switch out.Status {
		case "paid":
			return provider.SubmitResult{Status: provider.SubmitPaid, Reference: out.ID}, nil
		case "failed", "canceled":
			return provider.SubmitResult{}, domain.Rejected(out.FailureMessage)
		default:
			return provider.SubmitResult{Status: provider.SubmitAccepted, Reference: out.ID}, nil
		}
	case provider.TransientStatus(resp.StatusCode):
		return provider.SubmitResult{}, provider.Unavailable("rail_a status %d", resp.StatusCode)
	default:
		var out errorResponse
		_ = json.Unmarshal(raw, &out)
		reason := out.Error.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return provider.SubmitResult{}, domain.Rejected(reason)
	}
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		Reference      string `json:"reference"`
		FailureMessage string `json:"failure_message"`
	} `json:"data"`
}

// HandleCallback verifies the body signature and normalizes payout.* events.
func (c *Client) HandleCallback(payload []byte, header http.Header) (provider.Event, error) {
	if !c.verify(payload, header.Get(SignatureHeader)) {
		return provider.Event{}, domain.ErrInvalidSignature
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return provider.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	if evt.ID == "" {
		return provider.Event{}, fmt.Errorf("%w: missing event id", domain.ErrInvalidCallback)
	}

	event := provider.Event{
		EventID:   evt.ID,
		PayoutID:  evt.Data.Reference,
		Reference: evt.Data.ID,
	}
	switch evt.Type {
	case "payout.paid":
		event.Outcome = provider.OutcomePaid
	case "payout.failed", "payout.canceled":
		event.Outcome = provider.OutcomeFailed
		event.Reason = evt.Data.FailureMessage
	case "payout.pending", "payout.in_transit":
		event.Outcome = provider.OutcomePending
	default:
		event.Outcome = provider.OutcomeIgnored
	}
	return event, nil
}

// Sign returns the signature header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) verify(payload []byte, signature string) bool {
	if len(c.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(string(c.secret), payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
