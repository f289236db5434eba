package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinFusion/pkg/cache"
)

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	tokens float64
	last   time.Time
}

// TokenBucket is an in-process limiter with one bucket per key. Buckets
// idle long enough to refill completely are dropped.
type TokenBucket struct {
	rate     float64 // tokens per second
	capacity float64
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

var _ Limiter = (*TokenBucket)(nil)

type Option func(*TokenBucket)

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucket) { l.now = now }
}

func NewTokenBucket(ratePerSec, burst float64, opts ...Option) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	l := &TokenBucket{rate: ratePerSec, capacity: burst, now: time.Now, buckets: make(map[string]*bucket)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (l *TokenBucket) fullAfter() time.Duration {
	if l.rate <= 0 {
		return time.Hour
	}
	return time.Duration(l.capacity / l.rate * float64(time.Second))
}

func (l *TokenBucket) sweep(now time.Time) {
	idle := l.fullAfter()
	if now.Sub(l.swept) < idle {
		return
	}
	l.swept = now
	for k, b := range l.buckets {
		if now.Sub(b.last) >= idle {
			delete(l.buckets, k)
		}
	}
}

// Window is a fixed-window counter in a shared cache, so several
// instances enforce one limit per key.
type Window struct {
	store  cache.Service
	limit  int64
	window time.Duration
	now    func() time.Time
}

var _ Limiter = (*Window)(nil)

func NewWindow(store cache.Service, limit int64, window time.Duration) *Window {
	return &Window{store: store, limit: limit, window: window, now: time.Now}
}

func (w *Window) Allow(ctx context.Context, key string) (bool, error) {
	slot := w.now().UnixNano() / int64(w.window)
	k := cache.Key("ratelimit", key, fmt.Sprint(slot))
	n, err := w.store.Increment(ctx, k)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if n == 1 {
		if _, err := w.store.Expire(ctx, k, w.window); err != nil {
			return false, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}
	return n <= w.limit, nil
}
