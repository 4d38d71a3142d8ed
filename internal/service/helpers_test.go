package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/ayo6706/marketplace-wallet/internal/provider"
	"github.com/ayo6706/marketplace-wallet/internal/repository"
	"github.com/ayo6706/marketplace-wallet/internal/testutil"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type submitReply struct {
	result provider.SubmitResult
	err    error
}

// stubAdapter replays queued submit replies and accepts JSON callbacks signed with "ok".
type stubAdapter struct {
	method domain.PayoutMethod

	mu      sync.Mutex
	replies []submitReply
	intents []provider.Intent
}

func newStubAdapter(method domain.PayoutMethod) *stubAdapter {
	return &stubAdapter{method: method}
}

func (a *stubAdapter) Method() domain.PayoutMethod { return a.method }

func (a *stubAdapter) ValidateDestination(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	return nil
}

func (a *stubAdapter) queue(replies ...submitReply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, replies...)
}

func (a *stubAdapter) Submit(ctx context.Context, intent provider.Intent) (provider.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.intents = append(a.intents, intent)
	if len(a.replies) == 0 {
		return provider.SubmitResult{Status: provider.SubmitAccepted, Reference: "ref-" + intent.PayoutID}, nil
	}
	reply := a.replies[0]
	a.replies = a.replies[1:]
	return reply.result, reply.err
}

func (a *stubAdapter) submitted() []provider.Intent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.Intent(nil), a.intents...)
}

type stubCallback struct {
	EventID   string `json:"event_id"`
	PayoutID  string `json:"payout_id"`
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason"`
}

func (a *stubAdapter) HandleCallback(payload []byte, header http.Header) (provider.Event, error) {
	if header.Get("X-Test-Signature") != "ok" {
		return provider.Event{}, domain.ErrInvalidSignature
	}
	var body stubCallback
	if err := json.Unmarshal(payload, &body); err != nil {
		return provider.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	return provider.Event{
		EventID:   body.EventID,
		PayoutID:  body.PayoutID,
		Reference: body.Reference,
		Outcome:   provider.Outcome(body.Outcome),
		Reason:    body.Reason,
	}, nil
}

// flakyStore fails the first failures transactions with err and counts every call.
type flakyStore struct {
	QueryStore

	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return s.err
	}
	return s.QueryStore.RunInTx(ctx, fn)
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mapCache is an in-process BalanceCache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]domain.Balances
	gens    map[string]int64
	deletes int

	// beforeSet runs once, unlocked, ahead of the next Set.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]domain.Balances), gens: make(map[string]int64)}
}

func (c *mapCache) Generation(_ context.Context, walletID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[walletID], nil
}

func (c *mapCache) Get(_ context.Context, walletID string) (domain.Balances, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[walletID]
	return b, ok, nil
}

func (c *mapCache) Set(_ context.Context, walletID string, generation int64, b domain.Balances) (bool, error) {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[walletID] != generation {
		return false, nil
	}
	c.entries[walletID] = b
	return true, nil
}

func (c *mapCache) Delete(_ context.Context, walletID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, walletID)
	c.gens[walletID]++
	c.deletes++
	return nil
}

type testEnv struct {
	ctx       context.Context
	clock     *testutil.Clock
	store     QueryStore
	settings  Settings
	cache     *mapCache
	balances  *BalanceProjector
	ledger    *LedgerService
	escrow    *EscrowScheduler
	payouts   *PayoutOrchestrator
	callbacks *CallbackService
	recon     *ReconciliationService
	railA     *stubAdapter
	railB     *stubAdapter
}

func newTestEnv(t *testing.T, tune ...func(*Settings)) *testEnv {
	t.Helper()
	return newTestEnvOn(t, testutil.SQLiteStore(t), tune...)
}

// newTestEnvOn wires the services over store.
func newTestEnvOn(t *testing.T, store QueryStore, tune ...func(*Settings)) *testEnv {
	t.Helper()
	clock := testutil.NewClock(testStart)
	settings := DefaultSettings()
	settings.Now = clock.Now
	for _, fn := range tune {
		fn(&settings)
	}

	railA := newStubAdapter(domain.MethodRailA)
	railB := newStubAdapter(domain.MethodRailB)
	registry := provider.NewRegistry(railA, railB)

	cache := newMapCache()
	balances := NewBalanceProjector(store, cache, settings)
	ledger := NewLedgerService(store, balances, settings)
	payouts := NewPayoutOrchestrator(store, registry, ledger, balances, settings)
	return &testEnv{
		ctx:       context.Background(),
		clock:     clock,
		store:     store,
		settings:  settings,
		cache:     cache,
		balances:  balances,
		ledger:    ledger,
		escrow:    NewEscrowScheduler(store, ledger, balances, settings),
		payouts:   payouts,
		callbacks: NewCallbackService(registry, payouts),
		recon:     NewReconciliationService(store),
		railA:     railA,
		railB:     railB,
	}
}

func (e *testEnv) sell(t *testing.T, walletID, orderID string, gross int64) {
	t.Helper()
	_, err := e.ledger.SettleSale(e.ctx, SaleEvent{OrderID: orderID, WalletID: walletID, GrossAmount: gross, SellerTier: domain.TierStandard})
	require.NoError(t, err)
}

// fundedWallet sells 10000 at the standard tier, releases the hold and registers rail_a.
func (e *testEnv) fundedWallet(t *testing.T, walletID string) {
	t.Helper()
	e.sell(t, walletID, "order-"+walletID, 10_000)
	e.clock.Advance(e.settings.EscrowHold)
	_, err := e.escrow.PromoteDue(e.ctx, 100)
	require.NoError(t, err)
	_, err = e.payouts.RegisterPayoutAccount(e.ctx, walletID, domain.MethodRailA, "tok_"+walletID)
	require.NoError(t, err)
}

func (e *testEnv) requireBalances(t *testing.T, walletID string, available, pending int64) {
	t.Helper()
	b, err := e.balances.GetBalances(e.ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, available, b.Available, "available")
	require.Equal(t, pending, b.Pending, "pending")
}

func (e *testEnv) requireBalanced(t *testing.T, walletID string) {
	t.Helper()
	violations, err := e.recon.CheckWallet(e.ctx, walletID)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func (e *testEnv) callback(t *testing.T, method domain.PayoutMethod, body stubCallback) error {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("X-Test-Signature", "ok")
	_, err = e.callbacks.HandleCallback(e.ctx, string(method), payload, header)
	return err
}
