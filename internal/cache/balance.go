package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/domain"
	"github.com/redis/go-redis/v9"
)

const generationTTL = 24 * time.Hour

// storeIfCurrent writes the projection only while the wallet generation still
// matches the one read before the projection was computed.
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then current = '0' end
if current ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// bumpGeneration advances the wallet generation and drops the projection.
var bumpGeneration = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

// BalanceCache stores projected balances as JSON with a short TTL. Every committed
// ledger change bumps a per-wallet generation, and a projection computed under an
// older generation is never stored.
type BalanceCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewBalanceCache(client redis.Cmdable, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func (c *BalanceCache) Get(ctx context.Context, walletID string) (domain.Balances, bool, error) {
	raw, err := c.client.Get(ctx, balanceKey(walletID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Balances{}, false, nil
	}
	if err != nil {
		return domain.Balances{}, false, fmt.Errorf("get cached balances: %w", err)
	}
	var b domain.Balances
	if err := json.Unmarshal(raw, &b); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return domain.Balances{}, false, nil
	}
	return b, true, nil
}

// Generation is zero for a wallet that has never been invalidated.
func (c *BalanceCache) Generation(ctx context.Context, walletID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(walletID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance generation: %w", err)
	}
	return gen, nil
}

// Set reports false when a write bumped the generation after it was read.
func (c *BalanceCache) Set(ctx context.Context, walletID string, generation int64, balances domain.Balances) (bool, error) {
	payload, err := json.Marshal(balances)
	if err != nil {
		return false, fmt.Errorf("encode balances: %w", err)
	}
	keys := []string{generationKey(walletID), balanceKey(walletID)}
	stored, err := storeIfCurrent.Run(ctx, c.client, keys, generation, payload, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set cached balances: %w", err)
	}
	return stored == 1, nil
}

func (c *BalanceCache) Delete(ctx context.Context, walletID string) error {
	keys := []string{generationKey(walletID), balanceKey(walletID)}
	if err := bumpGeneration.Run(ctx, c.client, keys, generationTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("delete cached balances: %w", err)
	}
	return nil
}

// Both keys share a hash tag so the scripts stay on one cluster slot.
func balanceKey(walletID string) string {
	return "wallet:{" + walletID + "}:balances"
}

func generationKey(walletID string) string {
	return "wallet:{" + walletID + "}:balances:gen"
}
