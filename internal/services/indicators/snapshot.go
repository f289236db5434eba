package indicators

import (
	"time"

	"FinFusion/internal/domain/models"
)

// Classify derives trend strength and direction from ADX and the volatility
// regime from the ATR ratio. It needs both inputs.
func Classify(adx models.ADX, atrSeries []float64, t Thresholds) (models.Classification, bool) {
	ratio, ok := ATRRatio(atrSeries, t.RegimeWindow)
	if !ok {
		return models.Classification{}, false
	}

	c := models.Classification{VolRegime: Regime(ratio, t), ATRRatio: ratio}
	switch {
	case adx.ADX >= t.ADXStrong:
		c.Trend = models.TrendStrong
	case adx.ADX < t.ADXWeak:
		c.Trend = models.TrendWeak
	default:
		c.Trend = models.TrendModerate
	}
	switch {
	case adx.PlusDI > adx.MinusDI:
		c.Direction = models.DirectionUp
	case adx.PlusDI < adx.MinusDI:
		c.Direction = models.DirectionDown
	default:
		c.Direction = models.DirectionFlat
	}
	return c, true
}

// Compute builds a snapshot from bars (oldest first). Indicators without
// enough history are left nil.
func Compute(symbol string, tf models.Timeframe, bars []models.Bar, cfg Config, now time.Time) models.IndicatorSnapshot {
	snap := models.IndicatorSnapshot{Symbol: symbol, Timeframe: tf, Bars: len(bars), ComputedAt: now}
	closes := models.Closes(bars)

	if v, ok := RSI(closes, cfg.RSIPeriod); ok {
		snap.RSI = &v
	}
	if v, ok := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal); ok {
		snap.MACD = &v
	}
	if v, ok := EMAStack(closes, cfg.EMAPeriods); ok {
		snap.EMAStack = &v
	}
	if v, ok := Bollinger(closes, cfg.BollingerPeriod, cfg.BollingerK); ok {
		snap.Bollinger = &v
	}
	atrSeries := ATRSeries(bars, cfg.ATRPeriod)
	if len(atrSeries) > 0 {
		v := atrSeries[len(atrSeries)-1]
		snap.ATR = &v
	}
	if v, ok := ParabolicSAR(bars, cfg.SARStep, cfg.SARMax); ok {
		snap.ParabolicSAR = &v.Value
	}
	if adx, ok := ADX(bars, cfg.ADXPeriod); ok {
		snap.ADX = &adx
		if c, ok := Classify(adx, atrSeries, cfg.Thresholds); ok {
			snap.Classification = &c
		}
	}
	return snap
}
