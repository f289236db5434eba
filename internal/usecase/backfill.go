package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/services/bars"
	"FinFusion/pkg/logger"
)

// Backfiller seeds the bar cache from a historical provider at startup.
type Backfiller struct {
	provider   drepo.BarProvider
	bars       *bars.Cache
	symbols    []string
	timeframes []models.Timeframe
	limit      int
	logger     *logger.Logger
}

func NewBackfiller(provider drepo.BarProvider, cache *bars.Cache, symbols []string, limit int, l *logger.Logger) *Backfiller {
	return &Backfiller{
		provider:   provider,
		bars:       cache,
		symbols:    symbols,
		timeframes: cache.Timeframes(),
		limit:      limit,
		logger:     l,
	}
}

// Run fetches every (symbol, timeframe) pair. Failures are logged and leave
// that series to cold-start; Run only fails if ctx does.
func (b *Backfiller) Run(ctx context.Context) error {
	if b.provider == nil || b.limit <= 0 {
		return nil
	}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sym := range b.symbols {
		for _, tf := range b.timeframes {
			sym, tf := sym, tf
			g.Go(func() error {
				history, err := b.provider.FetchBars(gctx, sym, tf, b.limit)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					b.logger.Warn("backfill failed", logger.String("symbol", sym), logger.String("tf", string(tf)), logger.Error(err))
					return nil
				}
				n := b.bars.Seed(sym, tf, history)
				b.logger.Debug("backfilled", logger.String("symbol", sym), logger.String("tf", string(tf)), logger.Int("bars", n))
				return nil
			})
		}
	}
	err := g.Wait()
	b.logger.Info("backfill done", logger.Duration("took_ms", time.Since(start)))
	return err
}
