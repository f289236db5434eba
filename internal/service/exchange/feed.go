package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/logger"
)

// ErrClosed is reported by Err after Close or context cancellation.
var ErrClosed = errors.New("feed closed")

// protocol is the venue-specific half of a Feed.
type protocol interface {
	name() models.Exchange
	endpoint(base string, symbols *symbolMap) string
	subscriptions(symbols *symbolMap) []interface{}
	ping(w *connWriter) error
	decode(frame []byte, symbols *symbolMap, now time.Time) ([]models.Event, error)
}

type Config struct {
	URL              string
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	Depth            int
	Buffer           int
}

type Option func(*Config)

func WithURL(u string) Option                 { return func(c *Config) { c.URL = u } }
func WithPingInterval(d time.Duration) Option { return func(c *Config) { c.PingInterval = d } }
func WithReadTimeout(d time.Duration) Option  { return func(c *Config) { c.ReadTimeout = d } }
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}
func WithDepth(n int) Option  { return func(c *Config) { c.Depth = n } }
func WithBuffer(n int) Option { return func(c *Config) { c.Buffer = n } }

func defaultConfig(url string, ping time.Duration) Config {
	return Config{
		URL:              url,
		PingInterval:     ping,
		ReadTimeout:      time.Minute,
		HandshakeTimeout: 10 * time.Second,
		Depth:            10,
		Buffer:           1024,
	}
}

// Feed implements repository.FeedAdapter over a single websocket connection.
// A Feed is reusable: each Connect starts a fresh connection.
type Feed struct {
	cfg     Config
	proto   protocol
	metrics drepo.Metrics
	logger  *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	err    error

	decodeErrs atomic.Uint64
}

var _ drepo.FeedAdapter = (*Feed)(nil)

func newFeed(cfg Config, build func(Config) protocol, m drepo.Metrics, l *logger.Logger, opts ...Option) *Feed {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Minute
	}
	proto := build(cfg)
	return &Feed{
		cfg:     cfg,
		proto:   proto,
		metrics: m,
		logger:  l.With(logger.String("exchange", string(proto.name()))),
	}
}

func (f *Feed) Name() models.Exchange { return f.proto.name() }

// Err reports why the last connection ended. It is nil while connected.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) setErr(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

// Connect dials, subscribes and starts the read loop. The returned channel
// is closed when the connection ends for any reason.
func (f *Feed) Connect(ctx context.Context, symbols []string) (<-chan models.Event, error) {
	syms, err := newSymbolMap(f.proto.name(), symbols)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy}
	url := f.proto.endpoint(f.cfg.URL, syms)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", f.proto.name(), err)
	}

	w := &connWriter{conn: conn}
	for _, msg := range f.proto.subscriptions(syms) {
		if err := w.writeJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s subscribe: %w", f.proto.name(), err)
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.err = nil
	f.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	out := make(chan models.Event, f.cfg.Buffer)

	go func() {
		// unblocks ReadMessage on cancellation
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go f.pingLoop(connCtx, w)
	go f.readLoop(connCtx, cancel, conn, syms, out)

	f.logger.Info("feed connected", logger.Int("symbols", len(symbols)))
	return out, nil
}

func (f *Feed) pingLoop(ctx context.Context, w *connWriter) {
	if f.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.proto.ping(w); err != nil {
				f.logger.Warn("ping failed", logger.Error(err))
			}
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, syms *symbolMap, out chan<- models.Event) {
	defer close(out)
	defer cancel()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				f.setErr(ErrClosed)
			} else {
				f.setErr(fmt.Errorf("%s read: %w", f.proto.name(), err))
			}
			return
		}

		events, err := f.proto.decode(frame, syms, time.Now().UTC())
		if err != nil {
			f.decodeErrs.Add(1)
			f.metrics.RecordDecodeError(f.proto.name())
			f.logger.Warn("skipping undecodable frame", logger.Error(err), logger.String("payload", truncate(frame, 256)))
			continue
		}

		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				f.setErr(ErrClosed)
				return
			}
		}
	}
}

// DecodeErrors counts frames skipped over the feed's lifetime.
func (f *Feed) DecodeErrors() uint64 { return f.decodeErrs.Load() }

// Close tears down the current connection, if any.
func (f *Feed) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// connWriter serialises writes; gorilla allows one concurrent writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *connWriter) writeText(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (w *connWriter) writePing() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
