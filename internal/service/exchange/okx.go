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

const okxURL = "wss://ws.okx.com:8443/ws/v5/public"

// NewOKX returns a feed over OKX v5 public channels: books5, tickers and
// trades per instrument.
func NewOKX(m drepo.Metrics, l *logger.Logger, opts ...Option) *Feed {
	return newFeed(defaultConfig(okxURL, 25*time.Second), func(c Config) protocol {
		return &okxProtocol{depth: c.Depth}
	}, m, l, opts...)
}

type okxProtocol struct {
	depth int
}

func (p *okxProtocol) name() models.Exchange { return models.OKX }

func (p *okxProtocol) endpoint(base string, _ *symbolMap) string { return base }

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxOp struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

func (p *okxProtocol) subscriptions(syms *symbolMap) []interface{} {
	args := make([]okxArg, 0, len(syms.native)*3)
	for _, n := range syms.native {
		args = append(args,
			okxArg{Channel: "books5", InstID: n},
			okxArg{Channel: "tickers", InstID: n},
			okxArg{Channel: "trades", InstID: n},
		)
	}
	return []interface{}{okxOp{Op: "subscribe", Args: args}}
}

// OKX expects a literal "ping" text frame and answers "pong".
func (p *okxProtocol) ping(w *connWriter) error { return w.writeText("ping") }

type okxEnvelope struct {
	Arg   okxArg          `json:"arg"`
	Data  json.RawMessage `json:"data"`
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
}

type okxTicker struct {
	InstID  string    `json:"instId"`
	Last    flexFloat `json:"last"`
	Open24h flexFloat `json:"open24h"`
	High24h flexFloat `json:"high24h"`
	Low24h  flexFloat `json:"low24h"`
	Vol24h  flexFloat `json:"vol24h"`
	TS      flexInt   `json:"ts"`
}

type okxTrade struct {
	InstID string    `json:"instId"`
	Price  flexFloat `json:"px"`
	Size   flexFloat `json:"sz"`
	Side   string    `json:"side"`
	TS     flexInt   `json:"ts"`
}

type okxBook struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
	TS   flexInt    `json:"ts"`
}

func (p *okxProtocol) decode(frame []byte, syms *symbolMap, now time.Time) ([]models.Event, error) {
	if strings.TrimSpace(string(frame)) == "pong" {
		return nil, nil
	}

	var env okxEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("okx envelope: %w", err)
	}
	switch env.Event {
	case "":
	case "error":
		return nil, fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	default:
		// subscribe acks and notices
		return nil, nil
	}

	symbol, ok := syms.canon(env.Arg.InstID)
	if !ok {
		return nil, fmt.Errorf("okx instrument %q not subscribed", env.Arg.InstID)
	}

	switch env.Arg.Channel {
	case "tickers":
		var ticks []okxTicker
		if err := unmarshal(env.Data, &ticks); err != nil {
			return nil, fmt.Errorf("okx tickers: %w", err)
		}
		events := make([]models.Event, 0, len(ticks))
		for _, t := range ticks {
			change := 0.0
			if t.Open24h > 0 {
				change = float64((t.Last - t.Open24h) / t.Open24h * 100)
			}
			events = append(events, models.TickerEvent(models.Ticker{
				Symbol:    symbol,
				Price:     float64(t.Last),
				Volume24h: float64(t.Vol24h),
				Change24h: change,
				High24h:   float64(t.High24h),
				Low24h:    float64(t.Low24h),
				Exchange:  models.OKX,
				Timestamp: t.TS.time(now),
			}, now))
		}
		return events, nil

	case "trades":
		var trades []okxTrade
		if err := unmarshal(env.Data, &trades); err != nil {
			return nil, fmt.Errorf("okx trades: %w", err)
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
				Exchange:  models.OKX,
				Timestamp: t.TS.time(now),
			}, now))
		}
		return events, nil

	case "books5", "books":
		var books []okxBook
		if err := unmarshal(env.Data, &books); err != nil {
			return nil, fmt.Errorf("okx books: %w", err)
		}
		events := make([]models.Event, 0, len(books))
		for _, b := range books {
			events = append(events, models.BookEvent(models.OrderBookSnapshot{
				Symbol:    symbol,
				Bids:      topLevels(b.Bids, p.depth, true),
				Asks:      topLevels(b.Asks, p.depth, false),
				Exchange:  models.OKX,
				Timestamp: b.TS.time(now),
			}, now))
		}
		return events, nil
	}

	return nil, fmt.Errorf("okx channel %q not handled", env.Arg.Channel)
}
