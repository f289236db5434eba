package middleware

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"FinFusion/internal/domain/models"
	domrepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/logger"
)

// Handler consumes validated events. All events of one symbol reach the
// handler from the same goroutine, in arrival order.
type Handler interface {
	Handle(ctx context.Context, ev models.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev models.Event)

func (f HandlerFunc) Handle(ctx context.Context, ev models.Event) { f(ctx, ev) }

// RealtimePipeline sits between the feed supervisor and the market state.
// It validates, optionally conflates and transforms, and shards events by
// symbol onto bounded queues. A full queue drops its oldest event.
type RealtimePipeline struct {
	handler Handler
	metrics domrepo.Metrics
	logger  *logger.Logger

	shardCount  int
	shardBuffer int
	shards      []chan models.Event

	// conflation: minimum interval between ticker/book events per venue and symbol
	minInterval time.Duration
	lastSeen    map[string]time.Time

	transform func(models.Event) models.Event

	dropped   atomic.Uint64
	throttled atomic.Uint64
	invalid   atomic.Uint64
}

type PipelineOption func(*RealtimePipeline)

// WithShards sets the number of worker goroutines.
func WithShards(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.shardCount = n
		}
	}
}

// WithShardBuffer sets each shard's queue capacity.
func WithShardBuffer(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.shardBuffer = n
		}
	}
}

// WithMaxRPS conflates ticker and book updates to at most n per second per
// venue and symbol. Trades are never conflated.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.minInterval = time.Second / time.Duration(n)
		}
	}
}

// WithTransform sets a hook applied to each event after validation.
func WithTransform(fn func(models.Event) models.Event) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) { p.logger = l }
}

func NewRealtimePipeline(handler Handler, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		handler:     handler,
		metrics:     metrics,
		logger:      logger.Nop(),
		shardCount:  4,
		shardBuffer: 1024,
		lastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.shards = make([]chan models.Event, p.shardCount)
	for i := range p.shards {
		p.shards[i] = make(chan models.Event, p.shardBuffer)
	}
	return p
}

// Run dispatches events from in until it closes or ctx is cancelled, then
// lets every shard drain and returns. Run must be called once.
func (p *RealtimePipeline) Run(ctx context.Context, in <-chan models.Event) error {
	var wg sync.WaitGroup
	for _, ch := range p.shards {
		wg.Add(1)
		go func(ch <-chan models.Event) {
			defer wg.Done()
			for ev := range ch {
				start := time.Now()
				p.handler.Handle(ctx, ev)
				p.metrics.RecordLatency("pipeline_handle", time.Since(start).Seconds())
			}
		}(ch)
	}

	err := p.dispatchLoop(ctx, in)
	for _, ch := range p.shards {
		close(ch)
	}
	wg.Wait()
	p.logger.Info("pipeline stopped",
		logger.Int64("dropped", int64(p.dropped.Load())),
		logger.Int64("throttled", int64(p.throttled.Load())),
		logger.Int64("invalid", int64(p.invalid.Load())),
	)
	return err
}

func (p *RealtimePipeline) dispatchLoop(ctx context.Context, in <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.dispatch(ev); err != nil && !errors.Is(err, errThrottled) {
				p.logger.Debug("event rejected", logger.String("symbol", ev.Symbol), logger.Error(err))
			}
		}
	}
}

var errThrottled = errors.New("throttled")

// dispatch runs on the single dispatcher goroutine, so lastSeen and the
// drop-oldest enqueue need no locking.
func (p *RealtimePipeline) dispatch(ev models.Event) error {
	if err := validateEvent(ev); err != nil {
		p.invalid.Add(1)
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		ev = p.transform(ev)
		if err := validateEvent(ev); err != nil {
			p.invalid.Add(1)
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(ev) {
		p.throttled.Add(1)
		return errThrottled
	}

	ch := p.shards[shardFor(ev.Symbol, len(p.shards))]
	for {
		select {
		case ch <- ev:
			return nil
		default:
		}
		select {
		case <-ch:
			p.dropped.Add(1)
			p.metrics.RecordDropped("pipeline_shard")
		default:
		}
	}
}

func shardFor(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

func (p *RealtimePipeline) allow(ev models.Event) bool {
	if p.minInterval <= 0 || ev.Kind == models.EventTrade {
		return true
	}
	key := string(ev.Kind) + "|" + string(ev.Exchange) + "|" + ev.Symbol
	now := ev.ReceivedAt
	if last, ok := p.lastSeen[key]; ok && now.Sub(last) < p.minInterval {
		return false
	}
	p.lastSeen[key] = now
	return true
}

// Dropped counts events evicted from full shard queues.
func (p *RealtimePipeline) Dropped() uint64 { return p.dropped.Load() }

func validateEvent(ev models.Event) error {
	if ev.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if ev.Exchange == "" {
		return fmt.Errorf("exchange empty")
	}
	switch ev.Kind {
	case models.EventTrade:
		t := ev.Trade
		if t == nil {
			return fmt.Errorf("trade event without payload")
		}
		if t.Price <= 0 || t.Quantity < 0 {
			return fmt.Errorf("trade price/quantity invalid")
		}
		if t.Timestamp.IsZero() {
			return fmt.Errorf("trade timestamp missing")
		}
	case models.EventTicker:
		t := ev.Ticker
		if t == nil {
			return fmt.Errorf("ticker event without payload")
		}
		if t.Price < 0 || t.Volume24h < 0 {
			return fmt.Errorf("negative ticker price/volume")
		}
	case models.EventBook:
		b := ev.Book
		if b == nil {
			return fmt.Errorf("book event without payload")
		}
		if bid, ok := b.BestBid(); ok {
			if ask, ok := b.BestAsk(); ok && bid.Price > ask.Price {
				return fmt.Errorf("crossed book: bid %v > ask %v", bid.Price, ask.Price)
			}
		}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}
