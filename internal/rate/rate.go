// Package rate resolves the USD-to-KHR exchange rate for a given business
// date, layering a cache in front of the store with a configured fallback.
package rate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"angkorpos/backend/internal/cache"
	"angkorpos/backend/internal/store"
)

// Provider resolves the rate for a calendar date. It never fails: when no
// rate is configured the fallback applies, so checkout is never blocked on
// rate administration.
type Provider interface {
	Current(ctx context.Context, rateDate string) float64
}

type StoreProvider struct {
	repo     store.Repository
	cache    cache.RateCache
	fallback float64
	ttl      time.Duration
	logger   *zap.Logger
}

func NewStoreProvider(repo store.Repository, rateCache cache.RateCache, fallback float64, ttl time.Duration, logger *zap.Logger) *StoreProvider {
	return &StoreProvider{
		repo:     repo,
		cache:    rateCache,
		fallback: fallback,
		ttl:      ttl,
		logger:   logger,
	}
}

func cacheKey(rateDate string) string {
	return "exchange-rate:" + rateDate
}

func (p *StoreProvider) Current(ctx context.Context, rateDate string) float64 {
	if cached, ok, err := p.cache.Get(ctx, cacheKey(rateDate)); err != nil {
		p.logger.Warn("rate cache read failed", zap.String("rate_date", rateDate), zap.Error(err))
	} else if ok && cached > 0 {
		return cached
	}

	row, err := p.repo.GetRateForDate(ctx, rateDate)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("rate lookup failed, using fallback",
				zap.String("rate_date", rateDate),
				zap.Float64("fallback", p.fallback),
				zap.Error(err))
		}
		return p.fallback
	}

	if err := p.cache.Set(ctx, cacheKey(rateDate), row.UsdToKhr, p.ttl); err != nil {
		p.logger.Warn("rate cache write failed", zap.String("rate_date", rateDate), zap.Error(err))
	}
	return row.UsdToKhr
}

// Invalidate drops the cached rate for a date after an admin update.
func (p *StoreProvider) Invalidate(ctx context.Context, rateDate string) {
	if err := p.cache.Invalidate(ctx, cacheKey(rateDate)); err != nil {
		p.logger.Warn("rate cache invalidate failed", zap.String("rate_date", rateDate), zap.Error(err))
	}
}
