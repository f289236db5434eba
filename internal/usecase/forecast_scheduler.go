package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/forecast"
	"FinFusion/pkg/logger"
)

// ForecastScheduler refits every symbol's models on a fixed interval with
// bounded concurrency.
type ForecastScheduler struct {
	engine   *forecast.Engine
	bars     *bars.Cache
	symbols  []string
	tf       models.Timeframe
	history  int
	interval time.Duration
	workers  int
	store    drepo.SnapshotStore
	metrics  drepo.Metrics
	logger   *logger.Logger
}

type SchedulerOption func(*ForecastScheduler)

func WithRefitInterval(d time.Duration) SchedulerOption {
	return func(s *ForecastScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithWorkers(n int) SchedulerOption {
	return func(s *ForecastScheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSnapshotStore publishes every usable result to store.
func WithSnapshotStore(store drepo.SnapshotStore) SchedulerOption {
	return func(s *ForecastScheduler) { s.store = store }
}

func NewForecastScheduler(engine *forecast.Engine, cache *bars.Cache, symbols []string, tf models.Timeframe, history int, metrics drepo.Metrics, l *logger.Logger, opts ...SchedulerOption) *ForecastScheduler {
	s := &ForecastScheduler{
		engine:   engine,
		bars:     cache,
		symbols:  symbols,
		tf:       tf,
		history:  history,
		interval: 5 * time.Minute,
		workers:  4,
		metrics:  metrics,
		logger:   l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run refits once immediately and then on every interval until ctx ends.
func (s *ForecastScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RefitAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("forecast refit round failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RefitAll refits every symbol, at most workers at a time.
func (s *ForecastScheduler) RefitAll(ctx context.Context) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, sym := range s.symbols {
		sym := sym
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s.refit(gctx, sym)
			return nil
		})
	}
	err := g.Wait()
	s.metrics.RecordLatency("forecast_refit_round", time.Since(start).Seconds())
	return err
}

func (s *ForecastScheduler) refit(ctx context.Context, symbol string) {
	res := s.engine.Refit(symbol, s.bars.Bars(symbol, s.tf, s.history))
	s.metrics.RecordForecast(forecast.ModelGARCH, res.VolStatus)
	s.metrics.RecordForecast(forecast.ModelLSTM, res.PriceStatus)

	if res.Status != models.ForecastAvailable {
		s.logger.Debug("forecast not available",
			logger.String("symbol", symbol),
			logger.String("status", string(res.Status)),
			logger.String("reason", res.Reason),
		)
	}
	if s.store == nil || res.Status == models.ForecastUnavailable {
		return
	}
	if err := s.store.SaveForecast(ctx, res); err != nil {
		s.metrics.RecordError("snapshot_forecast")
		s.logger.Warn("save forecast failed", logger.String("symbol", symbol), logger.Error(err))
	}
}
