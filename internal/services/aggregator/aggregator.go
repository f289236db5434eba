package aggregator

import (
	"sort"
	"sync"
	"time"

	"FinFusion/internal/domain/models"
)

type Option func(*Aggregator)

// WithTradeBuffer sets the per-symbol recent trade capacity.
func WithTradeBuffer(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.tradeCap = n
		}
	}
}

// WithStaleAfter ignores venue state older than d when consolidating.
// Zero disables the check.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Aggregator) { a.staleAfter = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator merges per-venue tickers, books and trades into a consolidated
// per-symbol view. Every symbol has its own lock; there is no lock shared
// across symbols.
type Aggregator struct {
	symbols    sync.Map // string -> *symbolState
	tradeCap   int
	staleAfter time.Duration
	now        func() time.Time
}

type symbolState struct {
	mu      sync.RWMutex
	tickers map[models.Exchange]models.Ticker
	books   map[models.Exchange]models.OrderBookSnapshot
	trades  *tradeRing
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{tradeCap: 1000, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) state(symbol string) *symbolState {
	if st, ok := a.symbols.Load(symbol); ok {
		return st.(*symbolState)
	}
	st, _ := a.symbols.LoadOrStore(symbol, &symbolState{
		tickers: make(map[models.Exchange]models.Ticker),
		books:   make(map[models.Exchange]models.OrderBookSnapshot),
		trades:  newTradeRing(a.tradeCap),
	})
	return st.(*symbolState)
}

func (a *Aggregator) lookup(symbol string) (*symbolState, bool) {
	st, ok := a.symbols.Load(symbol)
	if !ok {
		return nil, false
	}
	return st.(*symbolState), true
}

// Update applies one canonical event. Tickers and books replace the prior
// value for the same (symbol, exchange); trades are appended.
func (a *Aggregator) Update(ev models.Event) {
	st := a.state(ev.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch ev.Kind {
	case models.EventTicker:
		if ev.Ticker != nil {
			st.tickers[ev.Exchange] = *ev.Ticker
		}
	case models.EventBook:
		if ev.Book != nil {
			st.books[ev.Exchange] = copyBook(*ev.Book)
		}
	case models.EventTrade:
		if ev.Trade != nil {
			st.trades.push(*ev.Trade)
		}
	}
}

func copyBook(b models.OrderBookSnapshot) models.OrderBookSnapshot {
	b.Bids = append([]models.OrderBookLevel(nil), b.Bids...)
	b.Asks = append([]models.OrderBookLevel(nil), b.Asks...)
	return b
}

func (a *Aggregator) fresh(ts time.Time) bool {
	return a.staleAfter <= 0 || a.now().Sub(ts) <= a.staleAfter
}

// BestBidAsk returns the highest bid and lowest ask across venues. With no
// data the quote is zero-valued apart from Symbol.
func (a *Aggregator) BestBidAsk(symbol string) models.BestQuote {
	q := models.BestQuote{Symbol: symbol}
	st, ok := a.lookup(symbol)
	if !ok {
		return q
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	for ex, book := range st.books {
		if !a.fresh(book.Timestamp) {
			continue
		}
		bid, hasBid := book.BestBid()
		ask, hasAsk := book.BestAsk()
		if !hasBid && !hasAsk {
			continue
		}
		q.Exchanges++
		if book.Timestamp.After(q.UpdatedAt) {
			q.UpdatedAt = book.Timestamp
		}
		// ties go to the lexically smaller venue so results are deterministic
		if hasBid && (q.BidExchange == "" || bid.Price > q.Bid || (bid.Price == q.Bid && ex < q.BidExchange)) {
			q.Bid, q.BidExchange = bid.Price, ex
		}
		if hasAsk && (q.AskExchange == "" || ask.Price < q.Ask || (ask.Price == q.Ask && ex < q.AskExchange)) {
			q.Ask, q.AskExchange = ask.Price, ex
		}
	}

	if q.Bid > 0 && q.Ask > 0 {
		q.Spread = q.Ask - q.Bid
		q.SpreadPct = q.Spread / q.Bid * 100
	}
	return q
}

// ArbitrageOpportunities returns quotes whose SpreadPct strictly exceeds
// minSpreadPct, widest first.
func (a *Aggregator) ArbitrageOpportunities(minSpreadPct float64) []models.BestQuote {
	var out []models.BestQuote
	for _, sym := range a.Symbols() {
		q := a.BestBidAsk(sym)
		if q.Bid <= 0 || q.Ask <= 0 {
			continue
		}
		if q.SpreadPct > minSpreadPct {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SpreadPct > out[j].SpreadPct })
	return out
}

// AverageTicker averages ticker fields across venues with fresh tickers.
func (a *Aggregator) AverageTicker(symbol string) (models.AveragedTicker, bool) {
	st, ok := a.lookup(symbol)
	if !ok {
		return models.AveragedTicker{}, false
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	avg := models.AveragedTicker{Symbol: symbol}
	for ex, t := range st.tickers {
		if !a.fresh(t.Timestamp) {
			continue
		}
		avg.Price += t.Price
		avg.Volume24h += t.Volume24h
		avg.Change24h += t.Change24h
		avg.High24h += t.High24h
		avg.Low24h += t.Low24h
		avg.Exchanges = append(avg.Exchanges, ex)
		if t.Timestamp.After(avg.UpdatedAt) {
			avg.UpdatedAt = t.Timestamp
		}
	}
	n := float64(len(avg.Exchanges))
	if n == 0 {
		return models.AveragedTicker{}, false
	}
	avg.Price /= n
	avg.Volume24h /= n
	avg.Change24h /= n
	avg.High24h /= n
	avg.Low24h /= n
	sort.Slice(avg.Exchanges, func(i, j int) bool { return avg.Exchanges[i] < avg.Exchanges[j] })
	return avg, true
}

// Book returns the last snapshot from one venue.
func (a *Aggregator) Book(symbol string, ex models.Exchange) (models.OrderBookSnapshot, bool) {
	st, ok := a.lookup(symbol)
	if !ok {
		return models.OrderBookSnapshot{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	b, ok := st.books[ex]
	if !ok {
		return models.OrderBookSnapshot{}, false
	}
	return copyBook(b), true
}

// RecentTrades returns up to n of the newest trades, oldest first.
func (a *Aggregator) RecentTrades(symbol string, n int) []models.Trade {
	st, ok := a.lookup(symbol)
	if !ok {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trades.last(n)
}

// Symbols lists every symbol seen so far, sorted.
func (a *Aggregator) Symbols() []string {
	var out []string
	a.symbols.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
