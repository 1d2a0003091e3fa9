package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// TickCache implements domain.TickCache. The latest tick per pair is stored
// as JSON at "tick:latest:{pair}" and expires after ttl so a stalled
// collector does not serve stale data forever.
type TickCache struct {
	c   *Client
	ttl time.Duration
}

// NewTickCache creates a TickCache. A zero ttl keeps entries indefinitely.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{c: c, ttl: ttl}
}

func (tc *TickCache) latestKey(pair string) string {
	return tc.c.key("tick", "latest", pair)
}

// SetLatest replaces the cached tick for tick.Pair.
func (tc *TickCache) SetLatest(ctx context.Context, tick domain.Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("redis: marshal tick: %w", err)
	}
	if err := tc.c.rdb.Set(ctx, tc.latestKey(tick.Pair), data, tc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest tick %s: %w", tick.Pair, err)
	}
	return nil
}

// GetLatest returns the cached tick for pair, or domain.ErrNotFound.
func (tc *TickCache) GetLatest(ctx context.Context, pair string) (domain.Tick, error) {
	data, err := tc.c.rdb.Get(ctx, tc.latestKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Tick{}, fmt.Errorf("redis: latest tick %s: %w", pair, domain.ErrNotFound)
		}
		return domain.Tick{}, fmt.Errorf("redis: get latest tick %s: %w", pair, err)
	}
	var tick domain.Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return domain.Tick{}, fmt.Errorf("redis: unmarshal tick %s: %w", pair, err)
	}
	return tick, nil
}

var _ domain.TickCache = (*TickCache)(nil)
