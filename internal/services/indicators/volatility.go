package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"FinFusion/internal/domain/models"
)

func trueRange(cur, prev models.Bar) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATRSeries is Wilder's average true range. The first value averages the
// first period true ranges, so period+1 bars are needed. Element i
// corresponds to bars[period+i].
func ATRSeries(bars []models.Bar, period int) []float64 {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	p := float64(period)
	atr := sum / p
	out := make([]float64, 0, len(bars)-period)
	out = append(out, atr)
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*(p-1) + trueRange(bars[i], bars[i-1])) / p
		out = append(out, atr)
	}
	return out
}

func ATR(bars []models.Bar, period int) (float64, bool) {
	s := ATRSeries(bars, period)
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// ATRRatio compares the latest ATR with its mean over the last window
// values. It needs window ATR values.
func ATRRatio(atrSeries []float64, window int) (float64, bool) {
	if window <= 0 || len(atrSeries) < window {
		return 0, false
	}
	mean := stat.Mean(atrSeries[len(atrSeries)-window:], nil)
	if mean <= 0 {
		return 0, false
	}
	return atrSeries[len(atrSeries)-1] / mean, true
}

// Regime buckets an ATR ratio.
func Regime(ratio float64, t Thresholds) models.VolatilityRegime {
	switch {
	case ratio > t.RegimeHigh:
		return models.RegimeHigh
	case ratio > t.RegimeElevated:
		return models.RegimeElevated
	case ratio < t.RegimeLow:
		return models.RegimeLow
	default:
		return models.RegimeNormal
	}
}
