package repository

import (
	"context"
	"fmt"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/cache"
)

var _ drepo.SnapshotStore = (*CacheSnapshotStore)(nil)

// CacheSnapshotStore writes derived state to a cache.Service (Redis in
// production) under quote:<symbol>, forecast:<symbol> and health. Entries
// expire after ttl so readers never see state from a dead process.
type CacheSnapshotStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheSnapshotStore(c cache.Service, ttl time.Duration) *CacheSnapshotStore {
	return &CacheSnapshotStore{c: c, ttl: ttl}
}

func QuoteKey(symbol string) string    { return cache.Key("quote", symbol) }
func ForecastKey(symbol string) string { return cache.Key("forecast", symbol) }

const HealthKey = "health"

func (s *CacheSnapshotStore) SaveQuote(ctx context.Context, q models.BestQuote) error {
	if err := s.c.Set(ctx, QuoteKey(q.Symbol), q, s.ttl); err != nil {
		return fmt.Errorf("save quote %s: %w", q.Symbol, err)
	}
	return nil
}

// SaveForecast keeps forecasts for four ttls since refits are infrequent.
func (s *CacheSnapshotStore) SaveForecast(ctx context.Context, r models.ForecastResult) error {
	if err := s.c.Set(ctx, ForecastKey(r.Symbol), r, 4*s.ttl); err != nil {
		return fmt.Errorf("save forecast %s: %w", r.Symbol, err)
	}
	return nil
}

func (s *CacheSnapshotStore) SaveHealth(ctx context.Context, h models.FeedHealth) error {
	if err := s.c.Set(ctx, HealthKey, h, s.ttl); err != nil {
		return fmt.Errorf("save health: %w", err)
	}
	return nil
}

// Quotes reads back the stored quotes for symbols.
func (s *CacheSnapshotStore) Quotes(ctx context.Context, symbols ...string) (map[string]models.BestQuote, error) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = QuoteKey(sym)
	}
	byKey, err := cache.MGetTyped[models.BestQuote](ctx, s.c, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.BestQuote, len(byKey))
	for _, q := range byKey {
		out[q.Symbol] = q
	}
	return out, nil
}
