package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"signalrunner/internal/domain"
)

// defaultBalanceTTL bounds how stale a cached balance snapshot may be before
// sizing falls back to the venue API.
const defaultBalanceTTL = 10 * time.Second

// BalanceCache implements domain.BalanceCache using Redis string keys with a
// short TTL. Each snapshot is stored as JSON at "balance:{venue}:{userID}".
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache creates a BalanceCache backed by the given Client. A ttl of
// zero selects the default.
func NewBalanceCache(c *Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &BalanceCache{rdb: c.Underlying(), ttl: ttl}
}

func balanceKey(venue, userID string) string {
	return "balance:" + venue + ":" + userID
}

// Get returns the cached balance snapshot for a venue account. The second
// return value is false when no fresh snapshot exists.
func (bc *BalanceCache) Get(ctx context.Context, venue, userID string) (domain.Balance, bool, error) {
	raw, err := bc.rdb.Get(ctx, balanceKey(venue, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Balance{}, false, nil
		}
		return domain.Balance{}, false, fmt.Errorf("redis: balance get %s/%s: %w", venue, userID, err)
	}

	var bal domain.Balance
	if err := json.Unmarshal(raw, &bal); err != nil {
		return domain.Balance{}, false, fmt.Errorf("redis: balance decode %s/%s: %w", venue, userID, err)
	}
	return bal, true, nil
}

// Set stores a balance snapshot with the cache TTL.
func (bc *BalanceCache) Set(ctx context.Context, venue, userID string, bal domain.Balance) error {
	raw, err := json.Marshal(bal)
	if err != nil {
		return fmt.Errorf("redis: balance encode %s/%s: %w", venue, userID, err)
	}
	if err := bc.rdb.Set(ctx, balanceKey(venue, userID), raw, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: balance set %s/%s: %w", venue, userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
