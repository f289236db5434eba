package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/cache"
	pkghttp "FinFusion/pkg/http"
	pkgkafka "FinFusion/pkg/kafka"
	"FinFusion/pkg/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	sent map[string][]pkgkafka.Message
	err  error
}

func (w *fakeWriter) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.sent == nil {
		w.sent = map[string][]pkgkafka.Message{}
	}
	w.sent[topic] = append(w.sent[topic], msgs...)
	return nil
}

type countingNotifier struct {
	n   int
	err error
}

func (c *countingNotifier) Emit(context.Context, models.Signal) error {
	c.n++
	return c.err
}

func approvedSignal() models.Signal {
	return models.Signal{
		ID:     "sig-1",
		Symbol: "BTC/USDT",
		Side:   models.Long,
		Status: models.SignalApproved,
		Source: "test",
		Recommendation: &models.Recommendation{
			Quantity: 0.1, EntryPrice: 100, StopLoss: 95, TakeProfits: []float64{105, 110}, Leverage: 2,
		},
	}
}

func TestApprovedOnly(t *testing.T) {
	inner := &countingNotifier{}
	n := ApprovedOnly(inner)

	require.NoError(t, n.Emit(context.Background(), approvedSignal()))
	assert.Equal(t, 1, inner.n)

	rejected := approvedSignal()
	rejected.Status = models.SignalRejected
	err := n.Emit(context.Background(), rejected)
	assert.ErrorIs(t, err, ErrNotApproved)

	noRec := approvedSignal()
	noRec.Recommendation = nil
	assert.ErrorIs(t, n.Emit(context.Background(), noRec), ErrNotApproved)
	assert.Equal(t, 1, inner.n)
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b, c := &countingNotifier{}, &countingNotifier{err: boom}, &countingNotifier{}
	m := MultiNotifier{a, b, c, NewLogNotifier(logger.Nop())}

	err := m.Emit(context.Background(), approvedSignal())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, c.n)

	var partial *drepo.PartialDeliveryError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Delivered)
	assert.Equal(t, 1, partial.Failed)
}

func TestMultiNotifierLogSinkIsNotDelivery(t *testing.T) {
	boom := errors.New("broker down")
	m := MultiNotifier{NewLogNotifier(logger.Nop()), &countingNotifier{err: boom}}

	err := m.Emit(context.Background(), approvedSignal())
	require.ErrorIs(t, err, boom)
	var partial *drepo.PartialDeliveryError
	assert.False(t, errors.As(err, &partial))

	require.NoError(t, MultiNotifier{NewLogNotifier(logger.Nop())}.Emit(context.Background(), approvedSignal()))
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w, "signals")

	require.NoError(t, n.Emit(context.Background(), approvedSignal()))
	require.Len(t, w.sent["signals"], 1)
	msg := w.sent["signals"][0]
	assert.Equal(t, []byte("BTC/USDT"), msg.Key)
	assert.Equal(t, "sig-1", msg.Headers["trace_id"])
	assert.Equal(t, "test", msg.Headers["source"])

	w.err = errors.New("broker down")
	err := n.Emit(context.Background(), approvedSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sig-1")
}

func TestKafkaEventPublisher(t *testing.T) {
	w := &fakeWriter{}
	closed := false
	p := NewKafkaEventPublisher(w, "market", func() error { closed = true; return nil })

	require.NoError(t, p.PublishEvents(context.Background(), nil))
	assert.Empty(t, w.sent)

	now := time.Now().UTC()
	events := []models.Event{
		models.TradeEvent(models.Trade{Symbol: "ETH/USDT", Price: 10, Quantity: 1, Exchange: models.Bybit, Timestamp: now}, now),
		models.TickerEvent(models.Ticker{Symbol: "BTC/USDT", Price: 100, Exchange: models.OKX, Timestamp: now}, now),
	}
	require.NoError(t, p.PublishEvents(context.Background(), events))
	require.Len(t, w.sent["market"], 2)
	assert.Equal(t, "trade", w.sent["market"][0].Headers["kind"])
	assert.Equal(t, "okx", w.sent["market"][1].Headers["exchange"])

	require.NoError(t, p.Close())
	assert.True(t, closed)
}

func TestKafkaLogPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaLogPublisher(w)
	require.NoError(t, p.PublishMessage(context.Background(), "logs", map[string]int{"errors": 3}))
	require.Len(t, w.sent["logs"], 1)
	assert.Nil(t, w.sent["logs"][0].Key)
}

func TestCacheSnapshotStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := cache.NewMemoryCache(cache.WithMemoryClock(func() time.Time { return now }))
	s := NewCacheSnapshotStore(mc, time.Minute)

	q := models.BestQuote{Symbol: "BTC/USDT", Bid: 100, Ask: 101, Exchanges: 2}
	require.NoError(t, s.SaveQuote(ctx, q))
	require.NoError(t, s.SaveHealth(ctx, models.FeedHealth{Connected: 2, Total: 3}))
	require.NoError(t, s.SaveForecast(ctx, models.ForecastResult{Symbol: "BTC/USDT", Status: models.ForecastAvailable}))

	quotes, err := s.Quotes(ctx, "BTC/USDT", "ETH/USDT")
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 101.0, quotes["BTC/USDT"].Ask)

	var h models.FeedHealth
	require.NoError(t, mc.Get(ctx, HealthKey, &h))
	assert.Equal(t, 2, h.Connected)

	// quotes expire after one ttl, forecasts outlive them
	now = now.Add(2 * time.Minute)
	var got models.BestQuote
	assert.ErrorIs(t, mc.Get(ctx, QuoteKey("BTC/USDT"), &got), cache.ErrCacheMiss)
	var fr models.ForecastResult
	require.NoError(t, mc.Get(ctx, ForecastKey("BTC/USDT"), &fr))
	assert.Equal(t, models.ForecastAvailable, fr.Status)
}

func TestBarsQuery(t *testing.T) {
	q, err := barsQuery("finfusion", "bars")
	require.NoError(t, err)
	assert.Contains(t, q, "FROM finfusion.bars")
	assert.Contains(t, q, "ORDER BY open_time DESC")
	assert.True(t, strings.HasSuffix(q, "LIMIT ?"))

	_, err = barsQuery("finfusion", "bars; DROP TABLE x")
	assert.Error(t, err)
}

func TestReverseBars(t *testing.T) {
	b := []models.Bar{{Close: 3}, {Close: 2}, {Close: 1}}
	reverseBars(b)
	assert.Equal(t, []float64{1, 2, 3}, models.Closes(b))
}

func TestBinanceBarProvider(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		rows := make([][]interface{}, 0, 3)
		for i := 0; i < 3; i++ {
			open := t0.Add(time.Duration(i) * time.Minute)
			p := 100 + float64(i)
			rows = append(rows, []interface{}{
				open.UnixMilli(),
				fmt.Sprintf("%.2f", p), fmt.Sprintf("%.2f", p+2), fmt.Sprintf("%.2f", p-1), fmt.Sprintf("%.2f", p+1),
				"12.5", open.Add(time.Minute).UnixMilli() - 1, "0", 10, "0", "0", "0",
			})
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	p := NewBinanceBarProvider(pkghttp.NewClient(pkghttp.WithBaseURL(srv.URL)))
	p.now = func() time.Time { return t0.Add(2*time.Minute + 30*time.Second) }

	bars, err := p.FetchBars(context.Background(), "BTC/USDT", models.TF1m, 3)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "interval=1m")

	// the open tail bar is dropped
	require.Len(t, bars, 2)
	assert.Equal(t, t0, bars[0].OpenTime)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 12.5, bars[1].Volume)
	for _, b := range bars {
		assert.True(t, b.Sealed)
		assert.True(t, b.Valid())
		assert.Equal(t, "BTC/USDT", b.Symbol)
	}
}

func TestBinanceBarProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	p := NewBinanceBarProvider(pkghttp.NewClient(pkghttp.WithBaseURL(srv.URL)))

	_, err := p.FetchBars(context.Background(), "BTCUSDT", models.TF1m, 10)
	assert.Error(t, err)

	_, err = p.FetchBars(context.Background(), "BTC/USDT", models.TF1m, 10)
	var se *pkghttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)

	_, err = parseKline([]json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"x"`)})
	assert.Error(t, err)
}

type recordingQueue struct {
	topic   string
	payload interface{}
	err     error
}

func (q *recordingQueue) Enqueue(_ context.Context, topic string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.topic, q.payload = topic, payload
	return nil
}

func TestQueueNotifier(t *testing.T) {
	q := &recordingQueue{}
	n := NewQueueNotifier(q, "signal.approved")

	require.NoError(t, n.Emit(context.Background(), approvedSignal()))
	assert.Equal(t, "signal.approved", q.topic)
	sig, ok := q.payload.(models.Signal)
	require.True(t, ok)
	assert.Equal(t, "sig-1", sig.ID)

	q.err = errors.New("redis down")
	err := n.Emit(context.Background(), approvedSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sig-1")
}
