package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/internal/domain/models"
)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// trendBars builds bars whose range is always 2 around a close that moves by
// step per bar.
func trendBars(n int, start, step float64) []models.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = models.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: models.TF1m,
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      c - step,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func TestEMA(t *testing.T) {
	v, ok := EMA(linear(30, 5, 0), 10)
	require.True(t, ok)
	assert.InDelta(t, 5, v, 1e-12)

	_, ok = EMA(linear(5, 1, 1), 10)
	assert.False(t, ok)

	s := EMASeries(linear(12, 1, 1), 10)
	require.Len(t, s, 3)
	assert.InDelta(t, 5.5, s[0], 1e-12)
}

func TestRSI(t *testing.T) {
	v, ok := RSI(linear(20, 100, 1), 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	v, ok = RSI(linear(20, 100, -1), 14)
	require.True(t, ok)
	assert.InDelta(t, 0, v, 1e-12)

	v, ok = RSI(linear(20, 100, 0), 14)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	_, ok = RSI(linear(14, 100, 1), 14)
	assert.False(t, ok, "needs period+1 closes")

	alt := make([]float64, 30)
	for i := range alt {
		alt[i] = 100
		if i%2 == 1 {
			alt[i] = 101
		}
	}
	v, ok = RSI(alt, 14)
	require.True(t, ok)
	assert.InDelta(t, 50, v, 5)
}

func TestMACD(t *testing.T) {
	m, ok := MACD(linear(60, 50, 0), 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, 0, m.MACD, 1e-12)
	assert.InDelta(t, 0, m.Histogram, 1e-12)

	m, ok = MACD(linear(60, 50, 1), 12, 26, 9)
	require.True(t, ok)
	assert.Greater(t, m.MACD, 0.0)

	_, ok = MACD(linear(33, 50, 1), 12, 26, 9)
	assert.False(t, ok)
}

func TestEMAStack(t *testing.T) {
	st, ok := EMAStack(linear(100, 10, 1), []int{9, 21, 50, 200})
	require.True(t, ok)
	assert.Equal(t, []int{200}, st.Missing)
	assert.Len(t, st.Values, 3)
	assert.Equal(t, models.AlignBullish, st.Aligned)

	st, ok = EMAStack(linear(100, 500, -1), []int{9, 21, 50})
	require.True(t, ok)
	assert.Equal(t, models.AlignBearish, st.Aligned)

	_, ok = EMAStack(linear(5, 1, 1), []int{9})
	assert.False(t, ok)
}

func TestBollinger(t *testing.T) {
	b, ok := Bollinger(linear(30, 7, 0), 20, 2)
	require.True(t, ok)
	assert.Equal(t, 7.0, b.Middle)
	assert.Equal(t, b.Upper, b.Lower)
	assert.Equal(t, 0.5, b.PercentB)

	b, ok = Bollinger(linear(20, 1, 1), 20, 2)
	require.True(t, ok)
	assert.InDelta(t, 10.5, b.Middle, 1e-12)
	assert.Greater(t, b.Upper, b.Middle)
	assert.Less(t, b.Lower, b.Middle)
	assert.Greater(t, b.PercentB, 0.5)
}

func TestATR(t *testing.T) {
	// flat closes with a constant range of 2
	bars := trendBars(30, 100, 0)
	v, ok := ATR(bars, 14)
	require.True(t, ok)
	assert.InDelta(t, 2, v, 1e-12)

	assert.Len(t, ATRSeries(bars, 14), 16)
	_, ok = ATR(bars[:14], 14)
	assert.False(t, ok)
}

func TestADXTrend(t *testing.T) {
	adx, ok := ADX(trendBars(60, 100, 2), 14)
	require.True(t, ok)
	assert.Greater(t, adx.ADX, 25.0)
	assert.Greater(t, adx.PlusDI, adx.MinusDI)

	adx, ok = ADX(trendBars(60, 300, -2), 14)
	require.True(t, ok)
	assert.Greater(t, adx.MinusDI, adx.PlusDI)

	_, ok = ADX(trendBars(28, 100, 1), 14)
	assert.False(t, ok)
}

func TestParabolicSAR(t *testing.T) {
	bars := trendBars(40, 100, 1)
	sar, ok := ParabolicSAR(bars, 0.02, 0.2)
	require.True(t, ok)
	assert.True(t, sar.Uptrend)
	assert.Less(t, sar.Value, bars[len(bars)-1].Low)

	bars = trendBars(40, 200, -1)
	sar, ok = ParabolicSAR(bars, 0.02, 0.2)
	require.True(t, ok)
	assert.False(t, sar.Uptrend)
	assert.Greater(t, sar.Value, bars[len(bars)-1].High)
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 1
	}

	c, ok := Classify(models.ADX{ADX: 30, PlusDI: 25, MinusDI: 10}, flat, th)
	require.True(t, ok)
	assert.Equal(t, models.TrendStrong, c.Trend)
	assert.Equal(t, models.DirectionUp, c.Direction)
	assert.Equal(t, models.RegimeNormal, c.VolRegime)

	spike := append(append([]float64{}, flat[1:]...), 3)
	c, ok = Classify(models.ADX{ADX: 10}, spike, th)
	require.True(t, ok)
	assert.Equal(t, models.TrendWeak, c.Trend)
	assert.Equal(t, models.DirectionFlat, c.Direction)
	assert.Equal(t, models.RegimeHigh, c.VolRegime)

	_, ok = Classify(models.ADX{}, flat[:5], th)
	assert.False(t, ok)
}

func TestRegimeBuckets(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, models.RegimeHigh, Regime(1.6, th))
	assert.Equal(t, models.RegimeElevated, Regime(1.3, th))
	assert.Equal(t, models.RegimeNormal, Regime(1.0, th))
	assert.Equal(t, models.RegimeLow, Regime(0.7, th))
}

func TestComputeLeavesMissingNil(t *testing.T) {
	now := time.Now()
	snap := Compute("BTCUSDT", models.TF1m, trendBars(10, 100, 1), DefaultConfig(), now)
	assert.Nil(t, snap.RSI)
	assert.Nil(t, snap.MACD)
	assert.Nil(t, snap.ATR)
	assert.Nil(t, snap.ADX)
	assert.Nil(t, snap.Classification)
	require.NotNil(t, snap.EMAStack)
	assert.Contains(t, snap.EMAStack.Values, 9)
	assert.NotNil(t, snap.ParabolicSAR)
	assert.Equal(t, 10, snap.Bars)

	full := Compute("BTCUSDT", models.TF1m, trendBars(250, 100, 0.5), DefaultConfig(), now)
	assert.NotNil(t, full.RSI)
	assert.NotNil(t, full.MACD)
	assert.NotNil(t, full.Bollinger)
	assert.NotNil(t, full.ATR)
	assert.NotNil(t, full.ADX)
	assert.NotNil(t, full.Classification)
	assert.Empty(t, full.EMAStack.Missing)
}
