package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is an exponential schedule with subtractive jitter. Every value
// returned by Next lies in [wait*(1-Jitter), wait] where wait <= Max.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // fraction in [0,1]
}

func Default() Backoff {
	return Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.5}
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	min, max := b.Min, b.Max
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}

	wait := min
	for i := 1; i < attempt && wait < max; i++ {
		wait = time.Duration(float64(wait) * factor)
	}
	if wait > max {
		wait = max
	}

	jitter := b.Jitter
	if jitter <= 0 {
		return wait
	}
	if jitter > 1 {
		jitter = 1
	}
	return wait - time.Duration(rand.Float64()*jitter*float64(wait))
}

// Sleep waits for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
