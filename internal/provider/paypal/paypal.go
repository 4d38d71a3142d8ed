// Package paypal adapts the PayPal Payouts API (rail_b).
package paypal

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
)

// Webhook transmission headers.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
)

const tokenRefreshMargin = time.Minute

type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookID     string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Now           func() time.Time
}

// Client submits single-item payout batches and verifies webhook transmissions.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	secret       []byte
	httpClient   *http.Client
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

var _ provider.Adapter = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.WebhookSecret == "" {
		return nil, errors.New("paypal: base url, client credentials and webhook secret are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		secret:       []byte(cfg.WebhookSecret),
		httpClient:   httpClient,
		now:          now,
	}, nil
}

func (c *Client) Method() domain.PayoutMethod {
	return domain.MethodRailB
}

// ValidateDestination accepts the payee's PayPal email address.
func (c *Client) ValidateDestination(identifier string) error {
	addr, err := mail.ParseAddress(identifier)
	if err != nil || addr.Address != identifier {
		return fmt.Errorf("destination must be a payee email address")
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", provider.Unavailable("rail_b token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", provider.Unavailable("rail_b token status %d", resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", provider.Unavailable("rail_b decode token: %v", err)
	}
	if out.AccessToken == "" {
		return "", provider.Unavailable("rail_b token response without access_token")
	}
	c.accessToken = out.AccessToken
	c.expiresAt = c.now().Add(time.Duration(out.ExpiresIn)*time.Second - tokenRefreshMargin)
	return c.accessToken, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        amount `json:"amount"`
	Receiver      string `json:"receiver"`
	SenderItemID  string `json:"sender_item_id"`
}

type batchRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject"`
	} `json:"sender_batch_header"`
	Items []payoutItem `json:"items"`
}

type batchResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Submit creates a one-item payout batch. sender_batch_id and PayPal-Request-Id both carry the
// idempotency key, so a retried submit returns the original batch.
func (c *Client) Submit(ctx context.Context, intent provider.Intent) (provider.SubmitResult, error) {
	var batch batchRequest
	batch.SenderBatchHeader.SenderBatchID = intent.IdempotencyKey
	batch.SenderBatchHeader.EmailSubject = "You have a payout"
	batch.Items = []payoutItem{{
		RecipientType: "EMAIL",
		Amount: amount{
			Value:    domain.NewMoney(intent.Amount, intent.Currency).ToDecimal().StringFixed(2),
			Currency: strings.ToUpper(intent.Currency),
		},
		Receiver:     intent.Destination,
		SenderItemID: intent.PayoutID,
	}}
	body, err := json.Marshal(batch)
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("encode payout batch: %w", err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return provider.SubmitResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments/payouts", bytes.NewReader(body))
	if err != nil {
		return provider.SubmitResult{}, fmt.Errorf("build payout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PayPal-Request-Id", intent.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return provider.SubmitResult{}, ctx.Err()
		}
		return provider.SubmitResult{}, provider.Unavailable("rail_b request: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.SubmitResult{}, provider.Unavailable("rail_b read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var out batchResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return provider.SubmitResult{}, provider.Unavailable("rail_b decode response: %v", err)
		}
		if out.BatchHeader.BatchStatus == "DENIED" {
			return provider.SubmitResult{}, domain.Rejected("batch denied")
		}
		return provider.SubmitResult{Status: provider.SubmitAccepted, Reference: out.BatchHeader.PayoutBatchID}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.dropToken()
		return provider.SubmitResult{}, provider.Unavailable("rail_b token rejected")
	case provider.TransientStatus(resp.StatusCode):
		return provider.SubmitResult{}, provider.Unavailable("rail_b status %d", resp.StatusCode)
	default:
		var out apiError
		_ = json.Unmarshal(raw, &out)
		reason := strings.TrimSpace(out.Name + ": " + out.Message)
		if out.Name == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return provider.SubmitResult{}, domain.Rejected(reason)
	}
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		PayoutItemID      string `json:"payout_item_id"`
		PayoutBatchID     string `json:"payout_batch_id"`
		TransactionStatus string `json:"transaction_status"`
		PayoutItem        struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
		Errors struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"resource"`
}

// HandleCallback verifies the transmission signature and normalizes PAYMENT.PAYOUTS-ITEM.* events.
func (c *Client) HandleCallback(payload []byte, header http.Header) (provider.Event, error) {
	if !c.verify(payload, header) {
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
		PayoutID:  evt.Resource.PayoutItem.SenderItemID,
		Reference: evt.Resource.PayoutBatchID,
	}
	switch evt.EventType {
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		event.Outcome = provider.OutcomePaid
	case "PAYMENT.PAYOUTS-ITEM.FAILED", "PAYMENT.PAYOUTS-ITEM.BLOCKED", "PAYMENT.PAYOUTS-ITEM.DENIED",
		"PAYMENT.PAYOUTS-ITEM.RETURNED", "PAYMENT.PAYOUTS-ITEM.CANCELED", "PAYMENT.PAYOUTS-ITEM.REFUNDED":
		event.Outcome = provider.OutcomeFailed
		event.Reason = strings.TrimSpace(evt.Resource.Errors.Name + " " + evt.Resource.Errors.Message)
		if event.Reason == "" {
			event.Reason = strings.ToLower(evt.Resource.TransactionStatus)
		}
	case "PAYMENT.PAYOUTS-ITEM.UNCLAIMED", "PAYMENT.PAYOUTS-ITEM.HELD", "PAYMENT.PAYOUTSBATCH.PROCESSING":
		event.Outcome = provider.OutcomePending
	default:
		event.Outcome = provider.OutcomeIgnored
	}
	return event, nil
}

// Sign computes the transmission signature: base64 HMAC-SHA256 over
// "<transmission id>|<transmission time>|<webhook id>|<crc32 of body>".
func Sign(secret, transmissionID, transmissionTime, webhookID string, payload []byte) string {
	message := strings.Join([]string{
		transmissionID,
		transmissionTime,
		webhookID,
		strconv.FormatUint(uint64(crc32.ChecksumIEEE(payload)), 10),
	}, "|")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) verify(payload []byte, header http.Header) bool {
	id := header.Get(HeaderTransmissionID)
	at := header.Get(HeaderTransmissionTime)
	sig := header.Get(HeaderTransmissionSig)
	if len(c.secret) == 0 || id == "" || at == "" || sig == "" {
		return false
	}
	expected := Sign(string(c.secret), id, at, c.webhookID, payload)
	return hmac.Equal([]byte(expected), []byte(sig))
}
