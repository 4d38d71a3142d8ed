package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/db"
	"github.com/ayo6706/marketplace-wallet/internal/repository/gormstore"
	"github.com/ayo6706/marketplace-wallet/internal/testutil/dblock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// SQLiteStore returns a migrated gorm store on a fresh SQLite file.
func SQLiteStore(t testing.TB) *gormstore.Store {
	t.Helper()
	store, err := gormstore.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// PostgresPool connects to DATABASE_URL, applies migrations and truncates every table.
// The test is skipped when DATABASE_URL is unset.
func PostgresPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	for _, table := range []string{"audit_log", "idempotency_keys", "ledger_entries", "payout_requests", "payout_accounts", "wallets"} {
		_, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err)
	}
	return pool
}

// Clock is a settable time source for services and workers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
