package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"angkorpos/backend/internal/cache"
	"angkorpos/backend/internal/domain"
	"angkorpos/backend/internal/store/memory"
)

type mapCache struct {
	values map[string]float64
	sets   int
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]float64)}
}

func (c *mapCache) Get(_ context.Context, key string) (float64, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, rate float64, _ time.Duration) error {
	c.values[key] = rate
	c.sets++
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func TestCurrentFallsBackWhenNoRateConfigured(t *testing.T) {
	repo := memory.New()
	p := NewStoreProvider(repo, cache.NoopRateCache{}, 4100, time.Minute, zap.NewNop())

	require.Equal(t, 4100.0, p.Current(context.Background(), "2026-01-15"))
}

func TestCurrentReadsStoreAndPopulatesCache(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	_, err := repo.UpsertRateForDate(ctx, domain.ExchangeRate{RateDate: "2026-01-15", UsdToKhr: 4080})
	require.NoError(t, err)

	c := newMapCache()
	p := NewStoreProvider(repo, c, 4100, time.Minute, zap.NewNop())

	require.Equal(t, 4080.0, p.Current(ctx, "2026-01-15"))
	require.Equal(t, 1, c.sets)

	// Second read is served from the cache without another store write.
	require.Equal(t, 4080.0, p.Current(ctx, "2026-01-15"))
	require.Equal(t, 1, c.sets)
}

func TestInvalidateDropsCachedRate(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	_, err := repo.UpsertRateForDate(ctx, domain.ExchangeRate{RateDate: "2026-01-15", UsdToKhr: 4080})
	require.NoError(t, err)

	c := newMapCache()
	p := NewStoreProvider(repo, c, 4100, time.Minute, zap.NewNop())
	require.Equal(t, 4080.0, p.Current(ctx, "2026-01-15"))

	p.Invalidate(ctx, "2026-01-15")
	_, ok := c.values[cacheKey("2026-01-15")]
	require.False(t, ok)

	// Store update is visible on the next read.
	_, err = repo.UpsertRateForDate(ctx, domain.ExchangeRate{RateDate: "2026-01-15", UsdToKhr: 4120})
	require.NoError(t, err)
	require.Equal(t, 4120.0, p.Current(ctx, "2026-01-15"))
}
