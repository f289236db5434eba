package models

import (
	"strings"
	"time"
)

// Exchange identifies a market data venue.
type Exchange string

const (
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
	OKX     Exchange = "okx"
)

// Side is the aggressor side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Ticker struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume24h float64   `json:"volume_24h"`
	Change24h float64   `json:"change_24h"` // percent
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Exchange  Exchange  `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
}

type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      Side      `json:"side"`
	Exchange  Exchange  `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot holds the top N levels of one venue's book. Bids are
// sorted descending and asks ascending.
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Exchange  Exchange         `json:"exchange"`
	Timestamp time.Time        `json:"timestamp"`
}

// BestBid returns the top bid, false when the side is empty.
func (s *OrderBookSnapshot) BestBid() (OrderBookLevel, bool) {
	if len(s.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask, false when the side is empty.
func (s *OrderBookSnapshot) BestAsk() (OrderBookLevel, bool) {
	if len(s.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Asks[0], true
}

type EventKind string

const (
	EventTicker EventKind = "ticker"
	EventTrade  EventKind = "trade"
	EventBook   EventKind = "book"
)

// Event is the canonical unit carried on every internal market data channel.
// Exactly one of Ticker, Trade or Book is set, matching Kind.
type Event struct {
	Kind       EventKind          `json:"kind"`
	Exchange   Exchange           `json:"exchange"`
	Symbol     string             `json:"symbol"`
	ReceivedAt time.Time          `json:"received_at"`
	Ticker     *Ticker            `json:"ticker,omitempty"`
	Trade      *Trade             `json:"trade,omitempty"`
	Book       *OrderBookSnapshot `json:"book,omitempty"`
}

func TickerEvent(t Ticker, receivedAt time.Time) Event {
	return Event{Kind: EventTicker, Exchange: t.Exchange, Symbol: t.Symbol, ReceivedAt: receivedAt, Ticker: &t}
}

func TradeEvent(t Trade, receivedAt time.Time) Event {
	return Event{Kind: EventTrade, Exchange: t.Exchange, Symbol: t.Symbol, ReceivedAt: receivedAt, Trade: &t}
}

func BookEvent(b OrderBookSnapshot, receivedAt time.Time) Event {
	return Event{Kind: EventBook, Exchange: b.Exchange, Symbol: b.Symbol, ReceivedAt: receivedAt, Book: &b}
}

// Timestamp returns the venue timestamp of the payload.
func (e Event) Timestamp() time.Time {
	switch {
	case e.Ticker != nil:
		return e.Ticker.Timestamp
	case e.Trade != nil:
		return e.Trade.Timestamp
	case e.Book != nil:
		return e.Book.Timestamp
	}
	return e.ReceivedAt
}

// SplitSymbol splits a canonical BASE/QUOTE symbol.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// BestQuote is the consolidated top of book across venues. A zero Bid or Ask
// means no venue currently contributes that side.
type BestQuote struct {
	Symbol      string    `json:"symbol"`
	Bid         float64   `json:"bid"`
	BidExchange Exchange  `json:"bid_exchange,omitempty"`
	Ask         float64   `json:"ask"`
	AskExchange Exchange  `json:"ask_exchange,omitempty"`
	Spread      float64   `json:"spread"`
	SpreadPct   float64   `json:"spread_pct"`
	Exchanges   int       `json:"exchanges"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// AveragedTicker averages ticker fields across venues.
type AveragedTicker struct {
	Symbol    string     `json:"symbol"`
	Price     float64    `json:"price"`
	Volume24h float64    `json:"volume_24h"`
	Change24h float64    `json:"change_24h"`
	High24h   float64    `json:"high_24h"`
	Low24h    float64    `json:"low_24h"`
	Exchanges []Exchange `json:"exchanges"`
	UpdatedAt time.Time  `json:"updated_at"`
}
