package cache

import (
	"context"
	"time"

	"clinicstock/backend/internal/domain"
)

const StatsKey = "orders:stats"

type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.OrderStats, bool, error)
	Set(ctx context.Context, key string, value *domain.OrderStats, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.OrderStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.OrderStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
