package aggregator

import "FinFusion/internal/domain/models"

// tradeRing keeps the newest cap trades; the oldest is overwritten first.
type tradeRing struct {
	buf  []models.Trade
	head int // next write position
	size int
}

func newTradeRing(capacity int) *tradeRing {
	return &tradeRing{buf: make([]models.Trade, capacity)}
}

func (r *tradeRing) push(t models.Trade) {
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *tradeRing) last(n int) []models.Trade {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]models.Trade, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
