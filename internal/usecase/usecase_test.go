package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/services/aggregator"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/forecast"
	"FinFusion/internal/services/risk"
	pkgkafka "FinFusion/pkg/kafka"
	"FinFusion/pkg/logger"
	"FinFusion/pkg/metrics"
)

// seedFlat loads n hourly bars at price that end before the current hour.
func seedFlat(c *bars.Cache, symbol string, n int, price float64) {
	end := time.Now().UTC().Truncate(time.Hour)
	history := make([]models.Bar, n)
	for i := range history {
		history[i] = models.Bar{
			OpenTime: end.Add(time.Duration(i-n) * time.Hour),
			Open:     price, High: price + 1, Low: price - 1, Close: price, Volume: 1,
		}
	}
	c.Seed(symbol, models.TF1h, history)
}

type recordingNotifier struct {
	mu      sync.Mutex
	signals []models.Signal
	err     error
}

func (n *recordingNotifier) Emit(_ context.Context, s models.Signal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.signals = append(n.signals, s)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.signals)
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]models.Event
}

func (p *recordingPublisher) PublishEvents(_ context.Context, events []models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]models.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

type memStore struct {
	mu        sync.Mutex
	quotes    map[string]models.BestQuote
	forecasts map[string]models.ForecastResult
	health    *models.FeedHealth
}

func newMemStore() *memStore {
	return &memStore{quotes: map[string]models.BestQuote{}, forecasts: map[string]models.ForecastResult{}}
}

func (s *memStore) SaveQuote(_ context.Context, q models.BestQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
	return nil
}

func (s *memStore) SaveForecast(_ context.Context, r models.ForecastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts[r.Symbol] = r
	return nil
}

func (s *memStore) SaveHealth(_ context.Context, h models.FeedHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = &h
	return nil
}

type staticHealth models.FeedHealth

func (h staticHealth) Health() models.FeedHealth { return models.FeedHealth(h) }

func newSignalService(t *testing.T, n drepo.Notifier) (*SignalService, *risk.Portfolio, *bars.Cache) {
	t.Helper()
	cache := bars.New([]models.Timeframe{models.TF1h}, 500)
	cfg := risk.DefaultConfig()
	p := risk.NewPortfolio(10000, cfg)
	g := risk.NewGate(cfg, p, cache)
	svc := NewSignalService(g, p, cache, n, models.TF1h, 200, metrics.Noop{}, logger.Nop())
	return svc, p, cache
}

func longSignal(id, symbol string) models.Signal {
	return models.Signal{ID: id, Symbol: symbol, Side: models.Long, EntryPrice: 100, RecommendedLeverage: 1, Confidence: 0.7}
}

func TestSignalServiceApprovesAndNotifies(t *testing.T) {
	n := &recordingNotifier{}
	svc, p, cache := newSignalService(t, n)
	seedFlat(cache, "BTC/USDT", 40, 100)

	d, err := svc.Submit(context.Background(), longSignal("s1", "BTC/USDT"))
	require.NoError(t, err)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 1, n.count())
	assert.True(t, p.Has("BTC/USDT"))

	recent := svc.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "s1", recent[0].Signal.ID)
}

func TestSignalServiceRejectionIsNotNotified(t *testing.T) {
	n := &recordingNotifier{}
	svc, _, cache := newSignalService(t, n)
	seedFlat(cache, "BTC/USDT", 5, 100)

	d, err := svc.Submit(context.Background(), longSignal("s1", "BTC/USDT"))
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "insufficient history for ATR", d.Reason)
	assert.Zero(t, n.count())
}

func TestSignalServiceReleasesReservationWhenNotifyFails(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	svc, p, cache := newSignalService(t, n)
	seedFlat(cache, "BTC/USDT", 40, 100)

	d, err := svc.Submit(context.Background(), longSignal("s1", "BTC/USDT"))
	require.Error(t, err)
	assert.True(t, d.Approved)
	assert.False(t, p.Has("BTC/USDT"))

	n.err = nil
	d, err = svc.Submit(context.Background(), longSignal("s2", "BTC/USDT"))
	require.NoError(t, err)
	assert.True(t, d.Approved, d.Reason)
}

// partialNotifier delivers to one sink and fails another.
type partialNotifier struct {
	recordingNotifier
}

func (n *partialNotifier) Emit(ctx context.Context, s models.Signal) error {
	if err := n.recordingNotifier.Emit(ctx, s); err != nil {
		return err
	}
	return &drepo.PartialDeliveryError{Delivered: 1, Failed: 1, Err: errors.New("redis down")}
}

func TestSignalServiceKeepsReservationOnPartialDelivery(t *testing.T) {
	n := &partialNotifier{}
	svc, p, cache := newSignalService(t, n)
	seedFlat(cache, "BTC/USDT", 40, 100)

	d, err := svc.Submit(context.Background(), longSignal("s1", "BTC/USDT"))
	require.NoError(t, err)
	require.True(t, d.Approved, d.Reason)
	assert.Equal(t, 1, n.count())
	assert.True(t, p.Has("BTC/USDT"))

	pos, err := p.ConfirmFill("s1", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, pos.State)
}

func TestSignalServiceRecentNewestFirst(t *testing.T) {
	svc, _, _ := newSignalService(t, &recordingNotifier{})
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Submit(context.Background(), longSignal(id, "ETH/USDT"))
		require.NoError(t, err)
	}
	recent := svc.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Signal.ID)
	assert.Equal(t, "b", recent[1].Signal.ID)
}

func TestSignalProposalsHandler(t *testing.T) {
	n := &recordingNotifier{}
	svc, _, cache := newSignalService(t, n)
	seedFlat(cache, "BTC/USDT", 40, 100)
	h := NewSignalProposalsHandler("signals.proposed", svc, metrics.Noop{}, logger.Nop())
	assert.Equal(t, "signals.proposed", h.Topic())

	msg, err := json.Marshal(models.ProposeSignalRequest{ID: "k1", Symbol: "btc/usdt", Side: "long", Confidence: 0.6, EntryPrice: 100})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), msg))
	require.Equal(t, 1, n.count())
	assert.Equal(t, "BTC/USDT", n.signals[0].Symbol)
	assert.Equal(t, 1.0, n.signals[0].Recommendation.Leverage)

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"BTC/USDT","side":"sideways"}`)))

	// a rejection is committed, not retried
	assert.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 1, n.count())
}

func TestMarketProcessorUpdatesStateAndPublishes(t *testing.T) {
	agg := aggregator.New()
	cache := bars.New([]models.Timeframe{models.TF1m}, 100)
	pub := &recordingPublisher{}
	m := NewMarketProcessor(agg, cache, metrics.Noop{}, logger.Nop(), WithEventPublisher(pub, 2, 10*time.Millisecond, 16))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunPublisher(ctx) }()

	now := time.Now().UTC()
	m.Handle(ctx, models.TradeEvent(models.Trade{Symbol: "BTC/USDT", Price: 100, Quantity: 2, Side: models.Buy, Exchange: models.Binance, Timestamp: now}, now))
	m.Handle(ctx, models.BookEvent(models.OrderBookSnapshot{
		Symbol:    "BTC/USDT",
		Bids:      []models.OrderBookLevel{{Price: 99, Quantity: 1}},
		Asks:      []models.OrderBookLevel{{Price: 101, Quantity: 1}},
		Exchange:  models.Binance,
		Timestamp: now,
	}, now))
	m.Handle(ctx, models.TradeEvent(models.Trade{Symbol: "BTC/USDT", Price: 101, Quantity: 1, Side: models.Sell, Exchange: models.Binance, Timestamp: now}, now))

	last, ok := cache.Last("BTC/USDT", models.TF1m)
	require.True(t, ok)
	assert.Equal(t, 101.0, last.Close)
	assert.Equal(t, 3.0, last.Volume)

	q := agg.BestBidAsk("BTC/USDT")
	assert.Equal(t, 99.0, q.Bid)
	assert.Equal(t, 101.0, q.Ask)
	assert.Len(t, agg.RecentTrades("BTC/USDT", 10), 2)

	require.Eventually(t, func() bool { return pub.total() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, pub.total())
}

func TestMarketProcessorClosesPositionsOnTrades(t *testing.T) {
	agg := aggregator.New()
	cache := bars.New([]models.Timeframe{models.TF1h}, 500)
	seedFlat(cache, "BTC/USDT", 40, 100)
	cfg := risk.DefaultConfig()
	p := risk.NewPortfolio(10000, cfg)
	g := risk.NewGate(cfg, p, cache)

	d := g.Submit(longSignal("s1", "BTC/USDT"), cache.Bars("BTC/USDT", models.TF1h, 200))
	require.True(t, d.Approved, d.Reason)
	_, err := p.ConfirmFill("s1", 100, 0)
	require.NoError(t, err)

	m := NewMarketProcessor(agg, cache, metrics.Noop{}, logger.Nop(), WithPositions(p, models.TF1h, 50))
	now := time.Now().UTC()
	m.Handle(context.Background(), models.TradeEvent(models.Trade{Symbol: "BTC/USDT", Price: 95, Quantity: 1, Side: models.Sell, Exchange: models.OKX, Timestamp: now}, now))

	assert.False(t, p.Has("BTC/USDT"))
	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, models.CloseStopHit, closed[0].CloseReason)
}

type fixedVol struct{}

func (fixedVol) Forecast(symbol string, returns []float64, horizon int) (models.VolatilityForecast, error) {
	if len(returns) < 10 {
		return models.VolatilityForecast{}, forecast.ErrInsufficientHistory
	}
	return models.VolatilityForecast{Symbol: symbol, Horizon: horizon, PerStepVol: make([]float64, horizon), FittedAt: time.Now()}, nil
}

type noPrice struct{}

func (noPrice) Forecast(symbol string, bars []models.Bar, horizon int) (models.PriceForecast, error) {
	return models.PriceForecast{}, forecast.ErrInsufficientHistory
}

func TestForecastSchedulerStoresUsableResults(t *testing.T) {
	cache := bars.New([]models.Timeframe{models.TF1h}, 500)
	seedFlat(cache, "BTC/USDT", 100, 100)
	engine := forecast.NewEngine(fixedVol{}, noPrice{}, forecast.WithHorizon(5))
	store := newMemStore()

	s := NewForecastScheduler(engine, cache, []string{"BTC/USDT", "ETH/USDT"}, models.TF1h, 200, metrics.Noop{}, logger.Nop(),
		WithWorkers(2), WithSnapshotStore(store))
	require.NoError(t, s.RefitAll(context.Background()))

	res := engine.Get("BTC/USDT")
	assert.Equal(t, models.ForecastAvailable, res.VolStatus)
	assert.Equal(t, models.ForecastUnavailable, res.PriceStatus)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Contains(t, store.forecasts, "BTC/USDT")
	assert.NotContains(t, store.forecasts, "ETH/USDT")
}

func TestSnapshotPublisher(t *testing.T) {
	agg := aggregator.New()
	now := time.Now().UTC()
	agg.Update(models.BookEvent(models.OrderBookSnapshot{
		Symbol:    "ETH/USDT",
		Bids:      []models.OrderBookLevel{{Price: 2000, Quantity: 1}},
		Asks:      []models.OrderBookLevel{{Price: 2001, Quantity: 1}},
		Exchange:  models.Bybit,
		Timestamp: now,
	}, now))
	store := newMemStore()
	pub := NewSnapshotPublisher(agg, staticHealth{Connected: 2, Total: 3}, store, time.Second, metrics.Noop{}, logger.Nop())

	pub.PublishOnce(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Contains(t, store.quotes, "ETH/USDT")
	assert.Equal(t, 2000.0, store.quotes["ETH/USDT"].Bid)
	require.NotNil(t, store.health)
	assert.Equal(t, 2, store.health.Connected)
}

type errorCounter struct {
	metrics.Noop
	mu    sync.Mutex
	kinds []string
}

func (c *errorCounter) RecordError(kind string) {
	c.mu.Lock()
	c.kinds = append(c.kinds, kind)
	c.mu.Unlock()
}

func TestProposalsHookCountsExhaustedMessages(t *testing.T) {
	m := &errorCounter{}
	hook := NewProposalsHook(time.Millisecond, m, logger.Nop())

	ctx := pkgkafka.WithStartTime(context.Background(), time.Now().Add(-time.Second))
	ctx, km, data, err := hook.BeforeHandle(ctx, "signals.proposed", kafka.Message{Offset: 7}, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	hook.AfterHandle(ctx, "signals.proposed", km, data, errors.New("boom"))

	hook.OnError(ctx, "signals.proposed", km, data, errors.New("boom"))
	assert.Equal(t, []string{"consumer_exhausted"}, m.kinds)
}
