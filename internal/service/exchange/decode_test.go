package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustSymbols(t *testing.T, ex models.Exchange, s ...string) *symbolMap {
	t.Helper()
	m, err := newSymbolMap(ex, s)
	require.NoError(t, err)
	return m
}

func TestSymbolMap(t *testing.T) {
	m := mustSymbols(t, models.OKX, "btc/usdt", "ETH/USDT", "BTC/USDT")
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, m.native)
	c, ok := m.canon("btc-usdt")
	assert.True(t, ok)
	assert.Equal(t, "BTC/USDT", c)

	_, err := newSymbolMap(models.Binance, []string{"BTCUSDT"})
	assert.Error(t, err)
}

func TestBinanceEndpoint(t *testing.T) {
	p := &binanceProtocol{depth: 20}
	got := p.endpoint("wss://x/stream", mustSymbols(t, models.Binance, "BTC/USDT"))
	assert.Equal(t, "wss://x/stream?streams=btcusdt@depth20@100ms/btcusdt@ticker/btcusdt@trade", got)
}

func TestBinanceDecode(t *testing.T) {
	p := &binanceProtocol{depth: 2}
	syms := mustSymbols(t, models.Binance, "BTC/USDT")

	evs, err := p.decode([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"100.5","q":"0.25","T":1714564800000,"m":true}}`), syms, now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	tr := evs[0].Trade
	require.NotNil(t, tr)
	assert.Equal(t, "BTC/USDT", tr.Symbol)
	assert.Equal(t, 100.5, tr.Price)
	assert.Equal(t, 0.25, tr.Quantity)
	assert.Equal(t, models.Sell, tr.Side)
	assert.Equal(t, time.UnixMilli(1714564800000).UTC(), tr.Timestamp)

	evs, err = p.decode([]byte(`{"stream":"btcusdt@ticker","data":{"E":1714564800000,"s":"BTCUSDT","P":"-1.25","c":"99","h":"101","l":"98","v":"1234.5"}}`), syms, now)
	require.NoError(t, err)
	tk := evs[0].Ticker
	require.NotNil(t, tk)
	assert.Equal(t, 99.0, tk.Price)
	assert.Equal(t, -1.25, tk.Change24h)
	assert.Equal(t, 1234.5, tk.Volume24h)

	evs, err = p.decode([]byte(`{"stream":"btcusdt@depth20@100ms","data":{"lastUpdateId":1,"bids":[["99.9","1"],["100","2"],["99.8","0"],["99.7","3"]],"asks":[["100.2","1"],["100.1","4"]]}}`), syms, now)
	require.NoError(t, err)
	bk := evs[0].Book
	require.NotNil(t, bk)
	assert.Equal(t, []models.OrderBookLevel{{Price: 100, Quantity: 2}, {Price: 99.9, Quantity: 1}}, bk.Bids)
	assert.Equal(t, []models.OrderBookLevel{{Price: 100.1, Quantity: 4}, {Price: 100.2, Quantity: 1}}, bk.Asks)

	evs, err = p.decode([]byte(`{"result":null,"id":1}`), syms, now)
	assert.NoError(t, err)
	assert.Empty(t, evs)

	_, err = p.decode([]byte(`{"stream":"ethusdt@trade","data":{}}`), syms, now)
	assert.Error(t, err)
	_, err = p.decode([]byte(`not json`), syms, now)
	assert.Error(t, err)
	_, err = p.decode([]byte(`{"stream":"btcusdt@trade","data":{"p":"abc"}}`), syms, now)
	assert.Error(t, err)
}

func TestBybitSubscriptionsAreChunked(t *testing.T) {
	p := &bybitProtocol{depth: 10, books: map[string]*levelBook{}}
	msgs := p.subscriptions(mustSymbols(t, models.Bybit, "BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"))
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[0].(bybitOp).Args, 10)
	assert.Len(t, msgs[1].(bybitOp).Args, 2)
	assert.Equal(t, "orderbook.50.BTCUSDT", msgs[0].(bybitOp).Args[0])
}

func TestBybitDecode(t *testing.T) {
	p := &bybitProtocol{depth: 10, books: map[string]*levelBook{}}
	syms := mustSymbols(t, models.Bybit, "BTC/USDT")

	evs, err := p.decode([]byte(`{"success":true,"ret_msg":"subscribe","op":"subscribe"}`), syms, now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = p.decode([]byte(`{"success":false,"ret_msg":"bad topic","op":"subscribe"}`), syms, now)
	assert.Error(t, err)

	evs, err = p.decode([]byte(`{"topic":"tickers.BTCUSDT","ts":1714564800000,"type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"100","highPrice24h":"110","lowPrice24h":"90","volume24h":"5","price24hPcnt":"0.0125"}}`), syms, now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.InDelta(t, 1.25, evs[0].Ticker.Change24h, 1e-9)
	assert.Equal(t, 100.0, evs[0].Ticker.Price)

	evs, err = p.decode([]byte(`{"topic":"publicTrade.BTCUSDT","ts":1714564800000,"type":"snapshot","data":[{"T":1714564800001,"s":"BTCUSDT","S":"Buy","v":"0.1","p":"100"},{"T":1714564800002,"s":"BTCUSDT","S":"Sell","v":"0.2","p":"99.5"}]}`), syms, now)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.Buy, evs[0].Trade.Side)
	assert.Equal(t, models.Sell, evs[1].Trade.Side)
	assert.Equal(t, 99.5, evs[1].Trade.Price)
}

func TestBybitBookDeltasProduceSnapshots(t *testing.T) {
	p := &bybitProtocol{depth: 2, books: map[string]*levelBook{}}
	syms := mustSymbols(t, models.Bybit, "BTC/USDT")

	evs, err := p.decode([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1,"data":{"s":"BTCUSDT","b":[["100","1"],["99","1"]],"a":[["101","1"],["102","1"]]}}`), syms, now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, evs[0].Book.Bids[0].Price)

	// remove best bid, add a better ask
	evs, err = p.decode([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":2,"data":{"s":"BTCUSDT","b":[["100","0"]],"a":[["100.5","2"]]}}`), syms, now)
	require.NoError(t, err)
	book := evs[0].Book
	assert.Equal(t, []models.OrderBookLevel{{Price: 99, Quantity: 1}}, book.Bids)
	assert.Equal(t, []models.OrderBookLevel{{Price: 100.5, Quantity: 2}, {Price: 101, Quantity: 1}}, book.Asks)

	// a new snapshot discards the rebuilt state
	evs, err = p.decode([]byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":3,"data":{"s":"BTCUSDT","b":[["98","1"]],"a":[["103","1"]]}}`), syms, now)
	require.NoError(t, err)
	assert.Len(t, evs[0].Book.Bids, 1)
	assert.Len(t, evs[0].Book.Asks, 1)
}

func TestOKXDecode(t *testing.T) {
	p := &okxProtocol{depth: 5}
	syms := mustSymbols(t, models.OKX, "BTC/USDT")

	evs, err := p.decode([]byte("pong"), syms, now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = p.decode([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`), syms, now)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = p.decode([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`), syms, now)
	assert.Error(t, err)

	evs, err = p.decode([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"110","open24h":"100","high24h":"111","low24h":"99","vol24h":"42","ts":"1714564800000"}]}`), syms, now)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.InDelta(t, 10.0, evs[0].Ticker.Change24h, 1e-9)
	assert.Equal(t, "BTC/USDT", evs[0].Symbol)

	evs, err = p.decode([]byte(`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","px":"42219.9","sz":"0.12","side":"sell","ts":"1714564800000"}]}`), syms, now)
	require.NoError(t, err)
	assert.Equal(t, models.Sell, evs[0].Trade.Side)
	assert.Equal(t, 42219.9, evs[0].Trade.Price)

	evs, err = p.decode([]byte(`{"arg":{"channel":"books5","instId":"BTC-USDT"},"data":[{"asks":[["101","1","0","2"]],"bids":[["100","3","0","1"]],"ts":"1714564800000"}]}`), syms, now)
	require.NoError(t, err)
	assert.Equal(t, []models.OrderBookLevel{{Price: 100, Quantity: 3}}, evs[0].Book.Bids)
	assert.Equal(t, []models.OrderBookLevel{{Price: 101, Quantity: 1}}, evs[0].Book.Asks)
}
