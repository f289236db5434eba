package usecase

import (
	"context"
	"time"

	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/services/aggregator"
	"FinFusion/pkg/logger"
)

// SnapshotPublisher periodically pushes best quotes and feed health to the
// snapshot store.
type SnapshotPublisher struct {
	agg      *aggregator.Aggregator
	health   HealthSource
	store    drepo.SnapshotStore
	interval time.Duration
	metrics  drepo.Metrics
	logger   *logger.Logger
}

func NewSnapshotPublisher(agg *aggregator.Aggregator, health HealthSource, store drepo.SnapshotStore, interval time.Duration, metrics drepo.Metrics, l *logger.Logger) *SnapshotPublisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &SnapshotPublisher{agg: agg, health: health, store: store, interval: interval, metrics: metrics, logger: l}
}

func (p *SnapshotPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PublishOnce(ctx)
		}
	}
}

// PublishOnce writes one round. Store errors are logged and counted.
func (p *SnapshotPublisher) PublishOnce(ctx context.Context) {
	for _, sym := range p.agg.Symbols() {
		q := p.agg.BestBidAsk(sym)
		if q.Bid <= 0 && q.Ask <= 0 {
			continue
		}
		if err := p.store.SaveQuote(ctx, q); err != nil {
			p.metrics.RecordError("snapshot_quote")
			p.logger.Warn("save quote failed", logger.String("symbol", sym), logger.Error(err))
			return
		}
	}
	if err := p.store.SaveHealth(ctx, p.health.Health()); err != nil {
		p.metrics.RecordError("snapshot_health")
		p.logger.Warn("save health failed", logger.Error(err))
	}
}
