package bars

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestOnTickBuildsBars(t *testing.T) {
	c := New([]models.Timeframe{models.TF1m, models.TF5m}, 10)

	c.OnTick("BTC/USDT", 100, 1, t0.Add(5*time.Second))
	c.OnTick("BTC/USDT", 103, 2, t0.Add(20*time.Second))
	c.OnTick("BTC/USDT", 99, 1, t0.Add(40*time.Second))
	c.OnTick("BTC/USDT", 101, 1, t0.Add(50*time.Second))
	c.OnTick("BTC/USDT", 105, 3, t0.Add(70*time.Second))

	m1 := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, m1, 2)
	assert.Equal(t, models.Bar{
		Symbol: "BTC/USDT", Timeframe: models.TF1m, OpenTime: t0,
		Open: 100, High: 103, Low: 99, Close: 101, Volume: 5, Sealed: true,
	}, m1[0])
	assert.Equal(t, t0.Add(time.Minute), m1[1].OpenTime)
	assert.False(t, m1[1].Sealed)
	assert.Equal(t, 105.0, m1[1].Open)

	m5 := c.Bars("BTC/USDT", models.TF5m, 0)
	require.Len(t, m5, 1)
	assert.Equal(t, 105.0, m5[0].High)
	assert.Equal(t, 8.0, m5[0].Volume)
}

func TestGapsAreNotSynthesized(t *testing.T) {
	c := New([]models.Timeframe{models.TF1m}, 10)
	c.OnTick("BTC/USDT", 100, 1, t0)
	c.OnTick("BTC/USDT", 101, 1, t0.Add(10*time.Minute))
	bars := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, bars, 2)
	assert.Equal(t, t0.Add(10*time.Minute), bars[1].OpenTime)
}

func TestLateTicksAreDropped(t *testing.T) {
	c := New([]models.Timeframe{models.TF1m}, 10)
	c.OnTick("BTC/USDT", 100, 1, t0.Add(time.Minute))
	assert.False(t, c.OnTick("BTC/USDT", 50, 1, t0.Add(30*time.Second)))
	assert.Equal(t, uint64(1), c.LateTicks())

	bars := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, bars, 1)
	assert.Equal(t, 100.0, bars[0].Low)
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New([]models.Timeframe{models.TF1m}, 3)
	for i := 0; i < 5; i++ {
		c.OnTick("BTC/USDT", float64(100+i), 1, t0.Add(time.Duration(i)*time.Minute))
	}
	bars := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{102, 103, 104}, models.Closes(bars))
	assert.Equal(t, []float64{103, 104}, c.Closes("BTC/USDT", models.TF1m, 2))

	last, ok := c.Last("BTC/USDT", models.TF1m)
	require.True(t, ok)
	assert.Equal(t, 104.0, last.Close)
	_, ok = c.Last("ETH/USDT", models.TF1m)
	assert.False(t, ok)
}

func TestOHLCInvariantProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := New([]models.Timeframe{models.TF1s, models.TF1m}, 50)
	price := 100.0
	ts := t0
	for i := 0; i < 5000; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.01
		ts = ts.Add(time.Duration(rng.Intn(800)) * time.Millisecond)
		c.OnTick("BTC/USDT", price, rng.Float64(), ts)

		for _, tf := range c.Timeframes() {
			last, ok := c.Last("BTC/USDT", tf)
			require.True(t, ok)
			require.True(t, last.Valid(), "bar %+v violates OHLC envelope", last)
		}
	}
	for _, b := range c.Bars("BTC/USDT", models.TF1s, 0) {
		assert.True(t, b.Valid())
	}
}

func TestSeedKeepsLiveBars(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	c := New([]models.Timeframe{models.TF1m}, 5, WithClock(func() time.Time { return now }))

	// live bars at minutes 8 and 9
	c.OnTick("BTC/USDT", 200, 1, t0.Add(8*time.Minute))
	c.OnTick("BTC/USDT", 201, 1, t0.Add(9*time.Minute))

	var history []models.Bar
	for i := 9; i >= 0; i-- { // unsorted, overlaps live
		p := float64(100 + i)
		history = append(history, models.Bar{OpenTime: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1})
	}
	history = append(history, models.Bar{OpenTime: t0, Open: 1, High: 0, Low: 2, Close: 1}) // invalid

	added := c.Seed("BTC/USDT", models.TF1m, history)
	assert.Equal(t, 3, added)

	bars := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, bars, 5)
	assert.Equal(t, []float64{105, 106, 107, 200, 201}, models.Closes(bars))
	assert.True(t, bars[0].Sealed)
	assert.Equal(t, "BTC/USDT", bars[0].Symbol)
	assert.Equal(t, models.TF1m, bars[0].Timeframe)
}

func TestSeedColdStart(t *testing.T) {
	now := t0.Add(2*time.Minute + 30*time.Second)
	c := New([]models.Timeframe{models.TF1m}, 10, WithClock(func() time.Time { return now }))
	history := []models.Bar{
		{OpenTime: t0, Open: 1, High: 2, Low: 1, Close: 2},
		{OpenTime: t0.Add(time.Minute), Open: 2, High: 3, Low: 2, Close: 3},
		{OpenTime: t0.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3},
	}
	assert.Equal(t, 3, c.Seed("BTC/USDT", models.TF1m, history))

	// a live tick in the still-open interval extends the backfilled bar
	c.OnTick("BTC/USDT", 4, 1, now)
	bars := c.Bars("BTC/USDT", models.TF1m, 0)
	require.Len(t, bars, 3)
	assert.Equal(t, 4.0, bars[2].High)
	assert.False(t, bars[2].Sealed)
}
