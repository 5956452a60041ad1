package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"nowpayments-gateway/internal/domain/ports/adapter"
)

var _ adapter.MinAmountCache = (*MinAmountCache)(nil)

// MinAmountCache keeps the gateway's minimum payment amount per currency for ttl.
type MinAmountCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewMinAmountCache(client RedisClient, ttl time.Duration) *MinAmountCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MinAmountCache{
		client: client,
		ttl:    ttl,
	}
}

func minAmountKey(currency string) string { return "nowpayments:min_amount:" + currency }

// GetMinAmount reports (amount, true, nil) on a hit and (0, false, nil) on a miss.
func (c *MinAmountCache) GetMinAmount(ctx context.Context, currency string) (float64, bool, error) {
	raw, err := c.client.Get(ctx, minAmountKey(currency))
	if errors.Is(err, ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// corrupt entry; drop it so the next lookup refills
		_ = c.client.Del(ctx, minAmountKey(currency))
		return 0, false, nil
	}
	return v, true, nil
}

func (c *MinAmountCache) SetMinAmount(ctx context.Context, currency string, amount float64) error {
	return c.client.Set(ctx, minAmountKey(currency), strconv.FormatFloat(amount, 'f', -1, 64), c.ttl)
}

func (c *MinAmountCache) Invalidate(ctx context.Context, currency string) error {
	return c.client.Del(ctx, minAmountKey(currency))
}
