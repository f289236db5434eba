package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"FinFusion/internal/domain/models"
)

// LogReturns computes r_t = ln(C_t / C_{t-1}). It returns len(closes)-1
// values, or nil if there is insufficient data. Non-positive prices yield 0.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// BarLogReturns is LogReturns over bar closes.
func BarLogReturns(bars []models.Bar) []float64 {
	return LogReturns(models.Closes(bars))
}

// RealizedVolatility is the annualized sample standard deviation of the
// latest window returns.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sd := stat.StdDev(logReturns[len(logReturns)-window:], nil)
	return sd * math.Sqrt(barsPerYear)
}

// BarsPerYear returns the number of bars per (365-day) year for tf.
func BarsPerYear(tf models.Timeframe) float64 {
	d := tf.Duration()
	if d <= 0 {
		d = time.Minute
	}
	return float64(365*24*time.Hour) / float64(d)
}

// AlignFromTo rounds a time range to bar boundaries.
func AlignFromTo(from, to time.Time, tf models.Timeframe) (time.Time, time.Time) {
	return tf.Truncate(from), tf.Truncate(to)
}

// AlignedReturns pairs the log returns of two bar series on matching open
// times and keeps at most the newest window pairs. A pair needs both bars
// of consecutive matched timestamps.
func AlignedReturns(a, b []models.Bar, window int) (x, y []float64) {
	closesB := make(map[int64]float64, len(b))
	for _, bar := range b {
		closesB[bar.OpenTime.UnixNano()] = bar.Close
	}

	var prevA, prevB float64
	havePrev := false
	for _, bar := range a {
		cb, ok := closesB[bar.OpenTime.UnixNano()]
		if !ok {
			havePrev = false
			continue
		}
		if havePrev && prevA > 0 && prevB > 0 && bar.Close > 0 && cb > 0 {
			x = append(x, math.Log(bar.Close/prevA))
			y = append(y, math.Log(cb/prevB))
		}
		prevA, prevB, havePrev = bar.Close, cb, true
	}
	if window > 0 && len(x) > window {
		x, y = x[len(x)-window:], y[len(y)-window:]
	}
	return x, y
}

// Correlation returns the Pearson correlation of two return series, false
// when either is too short or has zero variance.
func Correlation(x, y []float64, minObs int) (float64, bool) {
	if len(x) != len(y) || len(x) < minObs || len(x) < 3 {
		return 0, false
	}
	if stat.StdDev(x, nil) == 0 || stat.StdDev(y, nil) == 0 {
		return 0, false
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0, false
	}
	return c, true
}
