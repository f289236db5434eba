package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/logger"
)

const (
	bybitURL = "wss://stream.bybit.com/v5/public/spot"
	// spot subscribe requests accept at most 10 args
	bybitMaxArgs = 10
	// depth of the orderbook topic; spot offers 1, 50 and 200
	bybitBookDepth = 50
)

// NewBybit returns a feed over Bybit v5 public spot topics: orderbook,
// tickers and publicTrade per symbol.
func NewBybit(m drepo.Metrics, l *logger.Logger, opts ...Option) *Feed {
	return newFeed(defaultConfig(bybitURL, 20*time.Second), func(c Config) protocol {
		return &bybitProtocol{depth: c.Depth, books: make(map[string]*levelBook)}
	}, m, l, opts...)
}

type bybitProtocol struct {
	depth int

	// orderbook topics push a snapshot followed by deltas; the adapter
	// rebuilds the full book so downstream only ever sees snapshots
	mu    sync.Mutex
	books map[string]*levelBook
}

func (p *bybitProtocol) name() models.Exchange { return models.Bybit }

func (p *bybitProtocol) endpoint(base string, _ *symbolMap) string { return base }

type bybitOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func (p *bybitProtocol) subscriptions(syms *symbolMap) []interface{} {
	p.mu.Lock()
	p.books = make(map[string]*levelBook)
	p.mu.Unlock()

	var args []string
	for _, n := range syms.native {
		args = append(args,
			fmt.Sprintf("orderbook.%d.%s", bybitBookDepth, n),
			"tickers."+n,
			"publicTrade."+n,
		)
	}
	var msgs []interface{}
	for len(args) > 0 {
		k := bybitMaxArgs
		if len(args) < k {
			k = len(args)
		}
		msgs = append(msgs, bybitOp{Op: "subscribe", Args: args[:k]})
		args = args[k:]
	}
	return msgs
}

func (p *bybitProtocol) ping(w *connWriter) error { return w.writeJSON(bybitOp{Op: "ping"}) }

type bybitEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    flexInt         `json:"ts"`
	Data  json.RawMessage `json:"data"`
	// control frames
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

type bybitTicker struct {
	Symbol      string    `json:"symbol"`
	LastPrice   flexFloat `json:"lastPrice"`
	HighPrice   flexFloat `json:"highPrice24h"`
	LowPrice    flexFloat `json:"lowPrice24h"`
	Volume24h   flexFloat `json:"volume24h"`
	Price24hPct flexFloat `json:"price24hPcnt"`
}

type bybitTrade struct {
	Time   flexInt   `json:"T"`
	Symbol string    `json:"s"`
	Side   string    `json:"S"`
	Size   flexFloat `json:"v"`
	Price  flexFloat `json:"p"`
}

type bybitBook struct {
	Symbol string     `json:"s"`
	Bids   []rawLevel `json:"b"`
	Asks   []rawLevel `json:"a"`
}

func (p *bybitProtocol) decode(frame []byte, syms *symbolMap, now time.Time) ([]models.Event, error) {
	var env bybitEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("bybit envelope: %w", err)
	}
	if env.Op != "" {
		if env.Success != nil && !*env.Success {
			return nil, fmt.Errorf("bybit %s rejected: %s", env.Op, env.RetMsg)
		}
		return nil, nil
	}

	channel, native, ok := topicParts(env.Topic)
	if !ok {
		return nil, fmt.Errorf("bybit topic %q malformed", env.Topic)
	}
	symbol, ok := syms.canon(native)
	if !ok {
		return nil, fmt.Errorf("bybit topic %q for unsubscribed symbol", env.Topic)
	}
	ts := env.TS.time(now)

	switch channel {
	case "tickers":
		var t bybitTicker
		if err := unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("bybit ticker: %w", err)
		}
		return []models.Event{models.TickerEvent(models.Ticker{
			Symbol:    symbol,
			Price:     float64(t.LastPrice),
			Volume24h: float64(t.Volume24h),
			Change24h: float64(t.Price24hPct) * 100,
			High24h:   float64(t.HighPrice),
			Low24h:    float64(t.LowPrice),
			Exchange:  models.Bybit,
			Timestamp: ts,
		}, now)}, nil

	case "publicTrade":
		var trades []bybitTrade
		if err := unmarshal(env.Data, &trades); err != nil {
			return nil, fmt.Errorf("bybit trades: %w", err)
		}
		events := make([]models.Event, 0, len(trades))
		for _, t := range trades {
			side := models.Buy
			if strings.EqualFold(t.Side, "sell") {
				side = models.Sell
			}
			events = append(events, models.TradeEvent(models.Trade{
				Symbol:    symbol,
				Price:     float64(t.Price),
				Quantity:  float64(t.Size),
				Side:      side,
				Exchange:  models.Bybit,
				Timestamp: t.Time.time(ts),
			}, now))
		}
		return events, nil

	case "orderbook":
		var b bybitBook
		if err := unmarshal(env.Data, &b); err != nil {
			return nil, fmt.Errorf("bybit orderbook: %w", err)
		}
		snap := p.applyBook(symbol, env.Type, b, ts)
		return []models.Event{models.BookEvent(snap, now)}, nil
	}

	return nil, fmt.Errorf("bybit channel %q not handled", channel)
}

func (p *bybitProtocol) applyBook(symbol, kind string, b bybitBook, ts time.Time) models.OrderBookSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	book, ok := p.books[symbol]
	if !ok || kind == "snapshot" {
		book = newLevelBook()
		p.books[symbol] = book
	}
	book.apply(b.Bids, b.Asks)

	return models.OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      book.top(book.bids, p.depth, true),
		Asks:      book.top(book.asks, p.depth, false),
		Exchange:  models.Bybit,
		Timestamp: ts,
	}
}

// topicParts splits "orderbook.50.BTCUSDT" or "tickers.BTCUSDT".
func topicParts(topic string) (channel, symbol string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[len(parts)-1], true
}

// levelBook is a price-keyed book rebuilt from a snapshot plus deltas.
type levelBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newLevelBook() *levelBook {
	return &levelBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
}

func (b *levelBook) apply(bids, asks []rawLevel) {
	for _, l := range bids {
		setLevel(b.bids, l)
	}
	for _, l := range asks {
		setLevel(b.asks, l)
	}
}

func setLevel(side map[float64]float64, l rawLevel) {
	px, qty := float64(l[0]), float64(l[1])
	if qty <= 0 {
		delete(side, px)
		return
	}
	side[px] = qty
}

func (b *levelBook) top(side map[float64]float64, depth int, descending bool) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(side))
	for px, qty := range side {
		levels = append(levels, models.OrderBookLevel{Price: px, Quantity: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
