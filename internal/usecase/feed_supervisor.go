package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/backoff"
	"FinFusion/pkg/logger"
)

// rateAlpha weights each one-second sample of the message rate (~5s window).
var rateAlpha = 1 - math.Exp(-1.0/5)

type adapterState struct {
	connected atomic.Bool
	messages  atomic.Uint64
	lastEvent atomic.Int64 // unix nanos

	mu       sync.Mutex
	restarts int
	lastErr  string
}

// FeedSupervisor keeps every exchange adapter connected and merges their
// events onto one channel. A failing adapter only affects its own venue.
type FeedSupervisor struct {
	adapters []drepo.FeedAdapter
	symbols  []string
	metrics  drepo.Metrics
	logger   *logger.Logger
	backoff  backoff.Backoff
	buffer   int
	out      chan models.Event
	now      func() time.Time

	states    map[models.Exchange]*adapterState
	total     atomic.Uint64
	lastEvent atomic.Int64

	rateMu    sync.Mutex
	rate      float64
	lastTotal uint64
}

type SupervisorOption func(*FeedSupervisor)

func WithBackoff(min, max time.Duration, factor, jitter float64) SupervisorOption {
	return func(s *FeedSupervisor) {
		s.backoff = backoff.Backoff{Min: min, Max: max, Factor: factor, Jitter: jitter}
	}
}

func WithOutputBuffer(n int) SupervisorOption {
	return func(s *FeedSupervisor) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(s *FeedSupervisor) { s.now = now }
}

func NewFeedSupervisor(adapters []drepo.FeedAdapter, symbols []string, metrics drepo.Metrics, l *logger.Logger, opts ...SupervisorOption) *FeedSupervisor {
	s := &FeedSupervisor{
		adapters: adapters,
		symbols:  symbols,
		metrics:  metrics,
		logger:   l,
		backoff:  backoff.Default(),
		buffer:   4096,
		now:      time.Now,
		states:   make(map[models.Exchange]*adapterState, len(adapters)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, a := range adapters {
		s.states[a.Name()] = &adapterState{}
	}
	s.out = make(chan models.Event, s.buffer)
	return s
}

// Events is the merged stream. It is closed once Run returns.
func (s *FeedSupervisor) Events() <-chan models.Event { return s.out }

// Run supervises all adapters until ctx is cancelled. Adapter failures are
// retried forever and never surface here.
func (s *FeedSupervisor) Run(ctx context.Context) error {
	defer close(s.out)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.adapters {
		a := a
		g.Go(func() error {
			s.supervise(gctx, a)
			return nil
		})
	}
	g.Go(func() error {
		s.sampleRate(gctx)
		return nil
	})
	s.logger.Info("feed supervisor started", logger.Int("adapters", len(s.adapters)), logger.Strings("symbols", s.symbols))
	_ = g.Wait()
	s.logger.Info("feed supervisor stopped")
	return nil
}

func (s *FeedSupervisor) supervise(ctx context.Context, a drepo.FeedAdapter) {
	name := a.Name()
	st := s.states[name]
	log := s.logger.With(logger.String("exchange", string(name)))
	defer a.Close()

	attempt := 0
	for {
		ch, err := a.Connect(ctx, s.symbols)
		if err == nil {
			st.connected.Store(true)
			s.metrics.SetConnected(name, true)
			log.Info("feed connected")

			delivered := s.pump(ctx, name, st, ch)
			st.connected.Store(false)
			s.metrics.SetConnected(name, false)
			if delivered > 0 {
				attempt = 0
			}
			err = a.Err()
			if err == nil {
				err = errors.New("stream ended")
			}
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		st.mu.Lock()
		st.restarts++
		st.lastErr = err.Error()
		st.mu.Unlock()
		s.metrics.RecordReconnect(name)

		wait := s.backoff.Next(attempt)
		log.Warn("feed down, reconnecting", logger.Error(err), logger.Int("attempt", attempt), logger.Duration("wait_ms", wait))
		if backoff.Sleep(ctx, wait) != nil {
			return
		}
	}
}

// pump forwards one connection's events and reports how many it delivered.
// Sends block: the merged channel applies backpressure to adapters.
func (s *FeedSupervisor) pump(ctx context.Context, name models.Exchange, st *adapterState, ch <-chan models.Event) int {
	n := 0
	for ev := range ch {
		select {
		case s.out <- ev:
		case <-ctx.Done():
			// the adapter stops on the same ctx and closes ch
			continue
		}
		n++
		ts := ev.ReceivedAt.UnixNano()
		st.messages.Add(1)
		st.lastEvent.Store(ts)
		s.total.Add(1)
		s.lastEvent.Store(ts)
		s.metrics.RecordEvent(name, ev.Kind)
	}
	return n
}

func (s *FeedSupervisor) sampleRate(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickRate()
		}
	}
}

func (s *FeedSupervisor) tickRate() {
	cur := s.total.Load()
	s.rateMu.Lock()
	delta := float64(cur - s.lastTotal)
	s.lastTotal = cur
	s.rate = rateAlpha*delta + (1-rateAlpha)*s.rate
	s.rateMu.Unlock()
}

type decodeCounter interface {
	DecodeErrors() uint64
}

// Health reports connection state and throughput per exchange.
func (s *FeedSupervisor) Health() models.FeedHealth {
	h := models.FeedHealth{
		Total:     len(s.adapters),
		Exchanges: make(map[models.Exchange]models.ExchangeHealth, len(s.adapters)),
	}
	for _, a := range s.adapters {
		st := s.states[a.Name()]
		eh := models.ExchangeHealth{
			Connected: st.connected.Load(),
			Messages:  st.messages.Load(),
		}
		if ts := st.lastEvent.Load(); ts > 0 {
			eh.LastEventAt = time.Unix(0, ts).UTC()
		}
		st.mu.Lock()
		eh.Restarts, eh.LastError = st.restarts, st.lastErr
		st.mu.Unlock()
		if dc, ok := a.(decodeCounter); ok {
			eh.DecodeErrs = dc.DecodeErrors()
		}
		if eh.Connected {
			h.Connected++
		}
		h.Exchanges[a.Name()] = eh
	}

	s.rateMu.Lock()
	h.MessagesPerSec = s.rate
	s.rateMu.Unlock()

	if ts := s.lastEvent.Load(); ts > 0 {
		h.LastEventAt = time.Unix(0, ts).UTC()
		h.SinceLastEvent = s.now().Sub(h.LastEventAt)
	}
	return h
}
