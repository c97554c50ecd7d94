package cache

import (
	"context"
	"time"
)

// RateCache caches the USD-to-KHR rate for a calendar date so the store is
// not queried on every sale. Misses and backend errors are both survivable,
// the rate provider falls through to the store.
type RateCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, rate float64, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (float64, bool, error) {
	return 0, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ string, _ float64, _ time.Duration) error {
	return nil
}

func (NoopRateCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
