package bars

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FinFusion/internal/domain/models"
)

type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache keeps a fixed-capacity bar ring per (symbol, timeframe), built
// incrementally from trades. Each ring has its own lock.
type Cache struct {
	timeframes []models.Timeframe
	capacity   int
	series     sync.Map // seriesKey -> *series
	late       atomic.Uint64
	now        func() time.Time
}

type seriesKey struct {
	symbol string
	tf     models.Timeframe
}

type series struct {
	mu   sync.RWMutex
	bars []models.Bar // oldest first
}

func New(timeframes []models.Timeframe, capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = 500
	}
	c := &Cache{
		timeframes: append([]models.Timeframe(nil), timeframes...),
		capacity:   capacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Timeframes() []models.Timeframe {
	return append([]models.Timeframe(nil), c.timeframes...)
}

func (c *Cache) Capacity() int { return c.capacity }

// LateTicks counts ticks dropped because they predate the open bar.
func (c *Cache) LateTicks() uint64 { return c.late.Load() }

func (c *Cache) get(symbol string, tf models.Timeframe, create bool) *series {
	k := seriesKey{symbol, tf}
	if s, ok := c.series.Load(k); ok {
		return s.(*series)
	}
	if !create {
		return nil
	}
	s, _ := c.series.LoadOrStore(k, &series{bars: make([]models.Bar, 0, c.capacity)})
	return s.(*series)
}

// OnTick folds a trade into every configured timeframe. It reports false
// when the tick was late for at least one timeframe and was dropped there.
// Empty intervals are never synthesized.
func (c *Cache) OnTick(symbol string, price, volume float64, ts time.Time) bool {
	ok := true
	for _, tf := range c.timeframes {
		if !c.get(symbol, tf, true).apply(symbol, tf, price, volume, ts, c.capacity) {
			c.late.Add(1)
			ok = false
		}
	}
	return ok
}

func (s *series) apply(symbol string, tf models.Timeframe, price, volume float64, ts time.Time, capacity int) bool {
	open := tf.Truncate(ts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.bars); n > 0 {
		last := &s.bars[n-1]
		switch {
		case open.Equal(last.OpenTime):
			if price > last.High {
				last.High = price
			}
			if price < last.Low {
				last.Low = price
			}
			last.Close = price
			last.Volume += volume
			return true
		case open.Before(last.OpenTime):
			return false
		default:
			last.Sealed = true
		}
	}

	s.push(models.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  open,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}, capacity)
	return true
}

// push appends, evicting the oldest bar when full. Caller holds s.mu.
func (s *series) push(b models.Bar, capacity int) {
	if len(s.bars) >= capacity {
		copy(s.bars, s.bars[1:])
		s.bars[len(s.bars)-1] = b
		return
	}
	s.bars = append(s.bars, b)
}

// Seed loads backfilled bars behind the live ones. Backfill never overwrites
// a live bar: only bars strictly older than the first live bar are kept.
// Invalid bars are skipped. It returns how many bars were added.
func (c *Cache) Seed(symbol string, tf models.Timeframe, history []models.Bar) int {
	if len(history) == 0 {
		return 0
	}
	sorted := make([]models.Bar, 0, len(history))
	for _, b := range history {
		if b.Valid() && b.Close > 0 {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime.Before(sorted[j].OpenTime) })

	current := tf.Truncate(c.now())
	s := c.get(symbol, tf, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff time.Time
	if len(s.bars) > 0 {
		cutoff = s.bars[0].OpenTime
	}

	merged := make([]models.Bar, 0, len(sorted)+len(s.bars))
	var prev time.Time
	for _, b := range sorted {
		b.OpenTime = tf.Truncate(b.OpenTime)
		if !cutoff.IsZero() && !b.OpenTime.Before(cutoff) {
			break
		}
		if len(merged) > 0 && !b.OpenTime.After(prev) {
			continue
		}
		b.Symbol, b.Timeframe = symbol, tf
		b.Sealed = b.OpenTime.Before(current)
		merged = append(merged, b)
		prev = b.OpenTime
	}
	added := len(merged)
	merged = append(merged, s.bars...)
	if len(merged) > c.capacity {
		drop := len(merged) - c.capacity
		merged = merged[drop:]
		if added -= drop; added < 0 {
			added = 0
		}
	}
	out := make([]models.Bar, len(merged), c.capacity)
	copy(out, merged)
	s.bars = out
	return added
}

// Bars returns up to n of the newest bars, oldest first. n <= 0 means all.
func (c *Cache) Bars(symbol string, tf models.Timeframe, n int) []models.Bar {
	s := c.get(symbol, tf, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.bars) {
		n = len(s.bars)
	}
	out := make([]models.Bar, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out
}

// Closes returns up to n of the newest close prices, oldest first.
func (c *Cache) Closes(symbol string, tf models.Timeframe, n int) []float64 {
	return models.Closes(c.Bars(symbol, tf, n))
}

func (c *Cache) Last(symbol string, tf models.Timeframe) (models.Bar, bool) {
	b := c.Bars(symbol, tf, 1)
	if len(b) == 0 {
		return models.Bar{}, false
	}
	return b[0], true
}

func (c *Cache) Len(symbol string, tf models.Timeframe) int {
	s := c.get(symbol, tf, false)
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}
