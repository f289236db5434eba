package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
	"FinFusion/pkg/logger"
	"FinFusion/pkg/metrics"
)

type decodeCounter struct {
	metrics.Noop
	n atomic.Int64
}

func (d *decodeCounter) RecordDecodeError(models.Exchange) { d.n.Add(1) }

// wsServer upgrades one connection, records the first client frame and
// replays frames before closing.
func wsServer(t *testing.T, frames []string, firstFrame chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if firstFrame != nil {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			firstFrame <- string(msg)
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func drain(t *testing.T, ch <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event channel not closed")
		}
	}
}

func TestFeedSkipsBadFramesAndReportsDisconnect(t *testing.T) {
	srv := wsServer(t, []string{
		`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"100","q":"1","T":1714564800000,"m":false}}`,
		`garbage`,
		`{"stream":"btcusdt@ticker","data":{"s":"BTCUSDT","c":"101","v":"1"}}`,
	}, nil)
	defer srv.Close()

	m := &decodeCounter{}
	feed := NewBinance(m, logger.Nop(), WithURL(wsURL(srv)+"/stream"))

	events, err := feed.Connect(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventTrade, got[0].Kind)
	assert.Equal(t, models.EventTicker, got[1].Kind)
	assert.Equal(t, int64(1), m.n.Load())

	assert.Error(t, feed.Err())
	assert.NotErrorIs(t, feed.Err(), ErrClosed)
}

func TestFeedSendsSubscription(t *testing.T) {
	first := make(chan string, 1)
	srv := wsServer(t, []string{
		`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"px":"1","sz":"1","side":"buy","ts":"1"}]}`,
	}, first)
	defer srv.Close()

	feed := NewOKX(metrics.Noop{}, logger.Nop(), WithURL(wsURL(srv)))
	events, err := feed.Connect(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)

	select {
	case msg := <-first:
		assert.Contains(t, msg, `"op":"subscribe"`)
		assert.Contains(t, msg, `"instId":"BTC-USDT"`)
		assert.Contains(t, msg, `"channel":"books5"`)
	case <-time.After(5 * time.Second):
		t.Fatalf("no subscription received")
	}
	got := drain(t, events)
	assert.Len(t, got, 1)
}

func TestFeedCloseEndsStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	feed := NewBybit(metrics.Noop{}, logger.Nop(), WithURL(wsURL(srv)))
	events, err := feed.Connect(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)

	require.NoError(t, feed.Close())
	drain(t, events)
	assert.ErrorIs(t, feed.Err(), ErrClosed)
}

func TestFeedConnectFailure(t *testing.T) {
	feed := NewBinance(metrics.Noop{}, logger.Nop(), WithURL("ws://127.0.0.1:1/stream"), WithHandshakeTimeout(time.Second))
	_, err := feed.Connect(context.Background(), []string{"BTC/USDT"})
	assert.Error(t, err)
}
