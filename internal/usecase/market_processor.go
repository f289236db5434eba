package usecase

import (
	"context"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/middleware"
	"FinFusion/internal/services/aggregator"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/risk"
	"FinFusion/pkg/logger"
)

var _ middleware.Handler = (*MarketProcessor)(nil)

// MarketProcessor applies pipeline events to the market state: the
// aggregator, the bar cache and open positions. It optionally forwards
// events to an external publisher in batches.
type MarketProcessor struct {
	agg       *aggregator.Aggregator
	bars      *bars.Cache
	portfolio *risk.Portfolio
	riskTF    models.Timeframe
	trailBars int
	metrics   drepo.Metrics
	logger    *logger.Logger

	pub     drepo.EventPublisher
	pubCh   chan models.Event
	batchSz int
	batchTO time.Duration
}

type ProcessorOption func(*MarketProcessor)

// WithPositions routes trade prices to the portfolio's position machines
// using bars of tf for trailing stops.
func WithPositions(p *risk.Portfolio, tf models.Timeframe, trailBars int) ProcessorOption {
	return func(m *MarketProcessor) {
		m.portfolio, m.riskTF = p, tf
		if trailBars > 0 {
			m.trailBars = trailBars
		}
	}
}

// WithEventPublisher forwards every event to pub in batches of up to size,
// flushed at least every timeout. RunPublisher must be running.
func WithEventPublisher(pub drepo.EventPublisher, size int, timeout time.Duration, buffer int) ProcessorOption {
	return func(m *MarketProcessor) {
		m.pub = pub
		if size > 0 {
			m.batchSz = size
		}
		if timeout > 0 {
			m.batchTO = timeout
		}
		if buffer <= 0 {
			buffer = 4096
		}
		m.pubCh = make(chan models.Event, buffer)
	}
}

func NewMarketProcessor(agg *aggregator.Aggregator, cache *bars.Cache, metrics drepo.Metrics, l *logger.Logger, opts ...ProcessorOption) *MarketProcessor {
	m := &MarketProcessor{
		agg:       agg,
		bars:      cache,
		trailBars: 100,
		metrics:   metrics,
		logger:    l,
		batchSz:   200,
		batchTO:   time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle is called from one pipeline shard per symbol.
func (m *MarketProcessor) Handle(ctx context.Context, ev models.Event) {
	m.agg.Update(ev)

	switch ev.Kind {
	case models.EventTrade:
		t := ev.Trade
		m.bars.OnTick(t.Symbol, t.Price, t.Quantity, t.Timestamp)
		m.metrics.RecordLastPrice(t.Symbol, t.Price)
		m.tickPosition(t.Symbol, t.Price)
	case models.EventBook:
		if q := m.agg.BestBidAsk(ev.Symbol); q.Bid > 0 && q.Ask > 0 {
			m.metrics.RecordSpread(ev.Symbol, q.SpreadPct)
		}
	}

	if m.pubCh != nil {
		select {
		case m.pubCh <- ev:
		default:
			m.metrics.RecordDropped("event_publisher")
		}
	}
}

func (m *MarketProcessor) tickPosition(symbol string, price float64) {
	if m.portfolio == nil || !m.portfolio.Has(symbol) {
		return
	}
	pos, closed := m.portfolio.OnPrice(symbol, price, m.bars.Bars(symbol, m.riskTF, m.trailBars))
	if closed {
		m.logger.Info("position closed",
			logger.String("symbol", symbol),
			logger.String("reason", string(pos.CloseReason)),
			logger.Float("realized_pnl", pos.RealizedPnl),
			logger.Int("targets_hit", pos.TargetsHit),
		)
	}
}

// RunPublisher batches queued events to the publisher until ctx ends, then
// flushes what is left.
func (m *MarketProcessor) RunPublisher(ctx context.Context) error {
	if m.pub == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.batchTO)
	defer ticker.Stop()

	batch := make([]models.Event, 0, m.batchSz)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := m.pub.PublishEvents(ctx, batch); err != nil {
			m.metrics.RecordError("publish_events")
			m.logger.Warn("publish events failed", logger.Int("batch", len(batch)), logger.Error(err))
		} else {
			m.metrics.RecordLatency("publish_events", time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for len(m.pubCh) > 0 {
				batch = append(batch, <-m.pubCh)
			}
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return nil
		case ev := <-m.pubCh:
			batch = append(batch, ev)
			if len(batch) >= m.batchSz {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
