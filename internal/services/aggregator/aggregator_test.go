package aggregator

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func book(ex models.Exchange, symbol string, bid, ask float64, ts time.Time) models.Event {
	return models.BookEvent(models.OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      []models.OrderBookLevel{{Price: bid, Quantity: 1}, {Price: bid - 0.01, Quantity: 2}},
		Asks:      []models.OrderBookLevel{{Price: ask, Quantity: 1}, {Price: ask + 0.01, Quantity: 2}},
		Exchange:  ex,
		Timestamp: ts,
	}, ts)
}

func TestBestBidAskAcrossVenues(t *testing.T) {
	a := New(WithClock(func() time.Time { return t0 }))
	a.Update(book(models.Binance, "BTC/USDT", 100.00, 100.05, t0))
	a.Update(book(models.Bybit, "BTC/USDT", 99.98, 100.04, t0))
	a.Update(book(models.OKX, "BTC/USDT", 100.02, 100.06, t0))

	q := a.BestBidAsk("BTC/USDT")
	assert.Equal(t, 100.02, q.Bid)
	assert.Equal(t, models.OKX, q.BidExchange)
	assert.Equal(t, 100.04, q.Ask)
	assert.Equal(t, models.Bybit, q.AskExchange)
	assert.Equal(t, 3, q.Exchanges)
	assert.InDelta(t, 0.02, q.Spread, 1e-9)
	// 0.02 / 100.02 * 100 percent, i.e. a 0.0002 fraction
	assert.InDelta(t, 0.019996, q.SpreadPct, 1e-6)

	assert.Empty(t, a.ArbitrageOpportunities(0.1))
}

func TestBestBidAskNoData(t *testing.T) {
	a := New()
	q := a.BestBidAsk("ETH/USDT")
	assert.Equal(t, models.BestQuote{Symbol: "ETH/USDT"}, q)
	assert.Empty(t, a.ArbitrageOpportunities(0))
}

func TestBookReplacesNotMerges(t *testing.T) {
	a := New()
	a.Update(book(models.Binance, "BTC/USDT", 100, 101, t0))
	a.Update(models.BookEvent(models.OrderBookSnapshot{
		Symbol:    "BTC/USDT",
		Bids:      []models.OrderBookLevel{{Price: 99, Quantity: 1}},
		Exchange:  models.Binance,
		Timestamp: t0.Add(time.Second),
	}, t0))

	b, ok := a.Book("BTC/USDT", models.Binance)
	require.True(t, ok)
	assert.Len(t, b.Bids, 1)
	assert.Empty(t, b.Asks)

	q := a.BestBidAsk("BTC/USDT")
	assert.Equal(t, 99.0, q.Bid)
	assert.Zero(t, q.Ask)
	assert.Zero(t, q.SpreadPct)
}

func TestStaleVenuesAreIgnored(t *testing.T) {
	now := t0
	a := New(WithStaleAfter(10*time.Second), WithClock(func() time.Time { return now }))
	a.Update(book(models.Binance, "BTC/USDT", 100, 100.5, t0.Add(-time.Minute)))
	a.Update(book(models.OKX, "BTC/USDT", 99, 101, t0))

	q := a.BestBidAsk("BTC/USDT")
	assert.Equal(t, 99.0, q.Bid)
	assert.Equal(t, 101.0, q.Ask)
	assert.Equal(t, 1, q.Exchanges)
}

func TestArbitrageSortedDescending(t *testing.T) {
	a := New()
	a.Update(book(models.Binance, "A/USDT", 100, 100.5, t0))  // 0.5%
	a.Update(book(models.Binance, "B/USDT", 100, 102, t0))    // 2%
	a.Update(book(models.Binance, "C/USDT", 100, 100.05, t0)) // 0.05%
	a.Update(book(models.Binance, "D/USDT", 100, 101, t0))    // 1%

	ops := a.ArbitrageOpportunities(0.1)
	require.Len(t, ops, 3)
	assert.Equal(t, []string{"B/USDT", "D/USDT", "A/USDT"}, []string{ops[0].Symbol, ops[1].Symbol, ops[2].Symbol})

	// only B exceeds 1.5%
	assert.Len(t, a.ArbitrageOpportunities(1.5), 1)
}

func TestAverageTicker(t *testing.T) {
	a := New()
	a.Update(models.TickerEvent(models.Ticker{Symbol: "BTC/USDT", Price: 100, Volume24h: 10, Change24h: 1, High24h: 110, Low24h: 90, Exchange: models.Binance, Timestamp: t0}, t0))
	a.Update(models.TickerEvent(models.Ticker{Symbol: "BTC/USDT", Price: 102, Volume24h: 30, Change24h: 3, High24h: 112, Low24h: 92, Exchange: models.OKX, Timestamp: t0}, t0))
	// replaces the first binance ticker
	a.Update(models.TickerEvent(models.Ticker{Symbol: "BTC/USDT", Price: 98, Volume24h: 10, Change24h: 1, High24h: 110, Low24h: 90, Exchange: models.Binance, Timestamp: t0}, t0))

	avg, ok := a.AverageTicker("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, avg.Price)
	assert.Equal(t, 20.0, avg.Volume24h)
	assert.Equal(t, []models.Exchange{models.Binance, models.OKX}, avg.Exchanges)

	_, ok = a.AverageTicker("ETH/USDT")
	assert.False(t, ok)
}

func TestRecentTradesRing(t *testing.T) {
	a := New(WithTradeBuffer(3))
	for i := 1; i <= 5; i++ {
		a.Update(models.TradeEvent(models.Trade{Symbol: "BTC/USDT", Price: float64(i), Quantity: 1, Side: models.Buy, Exchange: models.Binance, Timestamp: t0}, t0))
	}
	trades := a.RecentTrades("BTC/USDT", 10)
	require.Len(t, trades, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{trades[0].Price, trades[1].Price, trades[2].Price})

	last := a.RecentTrades("BTC/USDT", 1)
	assert.Equal(t, 5.0, last[0].Price)
	assert.Nil(t, a.RecentTrades("ETH/USDT", 1))
}

func TestBestQuoteBoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	venues := []models.Exchange{models.Binance, models.Bybit, models.OKX}
	a := New()

	for i := 0; i < 500; i++ {
		sym := fmt.Sprintf("S%d/USDT", rng.Intn(4))
		ex := venues[rng.Intn(len(venues))]
		bid := 100 + rng.Float64()*5
		a.Update(book(ex, sym, bid, bid+rng.Float64(), t0))

		q := a.BestBidAsk(sym)
		for _, v := range venues {
			b, ok := a.Book(sym, v)
			if !ok {
				continue
			}
			assert.GreaterOrEqual(t, q.Bid, b.Bids[0].Price)
			assert.LessOrEqual(t, q.Ask, b.Asks[0].Price)
		}
	}
}

func TestConcurrentUpdatesAcrossSymbols(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d/USDT", s)
			for i := 0; i < 200; i++ {
				a.Update(book(models.Binance, sym, 100+float64(i), 101+float64(i), t0))
				_ = a.BestBidAsk(sym)
				_ = a.ArbitrageOpportunities(0)
			}
		}(s)
	}
	wg.Wait()
	assert.Len(t, a.Symbols(), 8)
	assert.Equal(t, 299.0, a.BestBidAsk("S3/USDT").Bid)
}
