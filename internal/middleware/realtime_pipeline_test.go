package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
	"FinFusion/pkg/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func newRecorder() *recorder { return &recorder{events: make(map[string][]models.Event)} }

func (r *recorder) Handle(_ context.Context, ev models.Event) {
	r.mu.Lock()
	r.events[ev.Symbol] = append(r.events[ev.Symbol], ev)
	r.mu.Unlock()
}

func trade(symbol string, price float64, ts time.Time) models.Event {
	return models.TradeEvent(models.Trade{Symbol: symbol, Price: price, Quantity: 1, Side: models.Buy, Exchange: models.Binance, Timestamp: ts}, ts)
}

func TestPipelinePreservesPerSymbolOrder(t *testing.T) {
	rec := newRecorder()
	p := NewRealtimePipeline(rec, metrics.Noop{}, WithShards(3), WithShardBuffer(10000))

	in := make(chan models.Event)
	done := make(chan error)
	go func() { done <- p.Run(context.Background(), in) }()

	base := time.Now()
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	for i := 0; i < 500; i++ {
		for _, s := range symbols {
			in <- trade(s, float64(i+1), base.Add(time.Duration(i)*time.Millisecond))
		}
	}
	close(in)
	require.NoError(t, <-done)

	for _, s := range symbols {
		evs := rec.events[s]
		require.Len(t, evs, 500, s)
		for i, ev := range evs {
			assert.Equal(t, float64(i+1), ev.Trade.Price)
		}
	}
	assert.Zero(t, p.Dropped())
}

func TestPipelineDropsOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	var got []float64
	h := HandlerFunc(func(_ context.Context, ev models.Event) {
		<-block
		mu.Lock()
		got = append(got, ev.Trade.Price)
		mu.Unlock()
	})
	p := NewRealtimePipeline(h, metrics.Noop{}, WithShards(1), WithShardBuffer(2))

	now := time.Now()
	// the worker is not running, so the queue holds two
	for i := 1; i <= 5; i++ {
		require.NoError(t, p.dispatch(trade("BTC/USDT", float64(i), now)))
	}
	assert.Equal(t, uint64(3), p.Dropped())

	in := make(chan models.Event)
	close(in)
	close(block)
	require.NoError(t, p.Run(context.Background(), in))
	assert.Equal(t, []float64{4, 5}, got)
}

func TestPipelineValidation(t *testing.T) {
	p := NewRealtimePipeline(newRecorder(), metrics.Noop{})
	now := time.Now()

	assert.Error(t, p.dispatch(models.Event{Kind: models.EventTrade, Symbol: "BTC/USDT", Exchange: models.Binance}))
	assert.Error(t, p.dispatch(trade("", 1, now)))
	assert.Error(t, p.dispatch(trade("BTC/USDT", 0, now)))

	crossed := models.BookEvent(models.OrderBookSnapshot{
		Symbol:   "BTC/USDT",
		Exchange: models.OKX,
		Bids:     []models.OrderBookLevel{{Price: 101, Quantity: 1}},
		Asks:     []models.OrderBookLevel{{Price: 100, Quantity: 1}},
	}, now)
	assert.Error(t, p.dispatch(crossed))
	assert.NoError(t, p.dispatch(trade("BTC/USDT", 1, now)))
}

func TestPipelineConflatesTickersNotTrades(t *testing.T) {
	p := NewRealtimePipeline(newRecorder(), metrics.Noop{}, WithMaxRPS(10), WithShardBuffer(100))
	now := time.Now()
	tick := func(at time.Time) models.Event {
		return models.TickerEvent(models.Ticker{Symbol: "BTC/USDT", Price: 1, Exchange: models.Bybit, Timestamp: at}, at)
	}

	assert.NoError(t, p.dispatch(tick(now)))
	assert.ErrorIs(t, p.dispatch(tick(now.Add(50*time.Millisecond))), errThrottled)
	assert.NoError(t, p.dispatch(tick(now.Add(150*time.Millisecond))))

	assert.NoError(t, p.dispatch(trade("BTC/USDT", 1, now)))
	assert.NoError(t, p.dispatch(trade("BTC/USDT", 1, now)))
}
