package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/logger"
)

const binanceURL = "wss://stream.binance.com:9443/stream"

// NewBinance returns a feed over Binance combined streams: partial depth,
// 24h ticker and raw trades per symbol.
func NewBinance(m drepo.Metrics, l *logger.Logger, opts ...Option) *Feed {
	return newFeed(defaultConfig(binanceURL, 3*time.Minute), func(c Config) protocol {
		return &binanceProtocol{depth: c.Depth}
	}, m, l, opts...)
}

type binanceProtocol struct {
	depth int
}

func (p *binanceProtocol) name() models.Exchange { return models.Binance }

// binanceDepthLevels picks the smallest partial-depth stream covering depth.
func binanceDepthLevels(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}

func (p *binanceProtocol) endpoint(base string, syms *symbolMap) string {
	streams := make([]string, 0, len(syms.native)*3)
	for _, n := range syms.native {
		s := strings.ToLower(n)
		streams = append(streams,
			fmt.Sprintf("%s@depth%d@100ms", s, binanceDepthLevels(p.depth)),
			s+"@ticker",
			s+"@trade",
		)
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// Subscription is carried by the URL.
func (p *binanceProtocol) subscriptions(*symbolMap) []interface{} { return nil }

func (p *binanceProtocol) ping(w *connWriter) error { return w.writePing() }

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	// set on subscription acks
	ID *int64 `json:"id"`
}

type binanceTicker struct {
	EventTime flexInt   `json:"E"`
	Symbol    string    `json:"s"`
	Change    flexFloat `json:"P"`
	Last      flexFloat `json:"c"`
	High      flexFloat `json:"h"`
	Low       flexFloat `json:"l"`
	Volume    flexFloat `json:"v"`
}

type binanceTrade struct {
	Symbol       string    `json:"s"`
	Price        flexFloat `json:"p"`
	Quantity     flexFloat `json:"q"`
	TradeTime    flexInt   `json:"T"`
	BuyerIsMaker bool      `json:"m"`
}

type binanceDepth struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

func (p *binanceProtocol) decode(frame []byte, syms *symbolMap, now time.Time) ([]models.Event, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("binance envelope: %w", err)
	}
	if env.Stream == "" {
		if env.ID != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("binance frame without stream")
	}

	native, channel, ok := strings.Cut(env.Stream, "@")
	if !ok {
		return nil, fmt.Errorf("binance stream %q malformed", env.Stream)
	}
	symbol, ok := syms.canon(native)
	if !ok {
		return nil, fmt.Errorf("binance stream %q for unsubscribed symbol", env.Stream)
	}

	switch {
	case channel == "ticker":
		var t binanceTicker
		if err := unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("binance ticker: %w", err)
		}
		return []models.Event{models.TickerEvent(models.Ticker{
			Symbol:    symbol,
			Price:     float64(t.Last),
			Volume24h: float64(t.Volume),
			Change24h: float64(t.Change),
			High24h:   float64(t.High),
			Low24h:    float64(t.Low),
			Exchange:  models.Binance,
			Timestamp: t.EventTime.time(now),
		}, now)}, nil

	case channel == "trade":
		var t binanceTrade
		if err := unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("binance trade: %w", err)
		}
		side := models.Buy
		if t.BuyerIsMaker {
			side = models.Sell
		}
		return []models.Event{models.TradeEvent(models.Trade{
			Symbol:    symbol,
			Price:     float64(t.Price),
			Quantity:  float64(t.Quantity),
			Side:      side,
			Exchange:  models.Binance,
			Timestamp: t.TradeTime.time(now),
		}, now)}, nil

	case strings.HasPrefix(channel, "depth"):
		var d binanceDepth
		if err := unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("binance depth: %w", err)
		}
		return []models.Event{models.BookEvent(models.OrderBookSnapshot{
			Symbol:    symbol,
			Bids:      topLevels(d.Bids, p.depth, true),
			Asks:      topLevels(d.Asks, p.depth, false),
			Exchange:  models.Binance,
			Timestamp: now,
		}, now)}, nil
	}

	return nil, fmt.Errorf("binance channel %q not handled", channel)
}
