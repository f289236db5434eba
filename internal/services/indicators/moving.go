package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"FinFusion/internal/domain/models"
)

// EMASeries returns the EMA seeded with the SMA of the first period values.
// Element i corresponds to values[period-1+i].
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	ema := stat.Mean(values[:period], nil)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

func EMA(values []float64, period int) (float64, bool) {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// MACD is fast EMA minus slow EMA, with an EMA signal line of the difference.
func MACD(closes []float64, fast, slow, signal int) (models.MACD, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal-1 {
		return models.MACD{}, false
	}
	fastS := EMASeries(closes, fast)
	slowS := EMASeries(closes, slow)
	// align both on the slow series
	offset := len(fastS) - len(slowS)
	line := make([]float64, len(slowS))
	for i := range slowS {
		line[i] = fastS[i+offset] - slowS[i]
	}
	sig, ok := EMA(line, signal)
	if !ok {
		return models.MACD{}, false
	}
	m := line[len(line)-1]
	return models.MACD{MACD: m, Signal: sig, Histogram: m - sig}, true
}

// EMAStack reports each requested EMA with enough history. Alignment is
// bullish when available EMAs are strictly decreasing by period length order
// (short above long), bearish when strictly increasing, mixed otherwise.
func EMAStack(closes []float64, periods []int) (models.EMAStack, bool) {
	st := models.EMAStack{Values: make(map[int]float64, len(periods)), Aligned: models.AlignMixed}
	var ordered []float64
	for _, p := range periods {
		v, ok := EMA(closes, p)
		if !ok {
			st.Missing = append(st.Missing, p)
			continue
		}
		st.Values[p] = v
		ordered = append(ordered, v)
	}
	if len(ordered) == 0 {
		return models.EMAStack{}, false
	}
	if len(ordered) >= 2 {
		up, down := true, true
		for i := 1; i < len(ordered); i++ {
			if !(ordered[i-1] > ordered[i]) {
				up = false
			}
			if !(ordered[i-1] < ordered[i]) {
				down = false
			}
		}
		switch {
		case up:
			st.Aligned = models.AlignBullish
		case down:
			st.Aligned = models.AlignBearish
		}
	}
	return st, true
}

// Bollinger bands use the population standard deviation of the last period
// closes.
func Bollinger(closes []float64, period int, k float64) (models.Bollinger, bool) {
	if period <= 1 || len(closes) < period {
		return models.Bollinger{}, false
	}
	window := closes[len(closes)-period:]
	mean := stat.Mean(window, nil)
	var ss float64
	for _, v := range window {
		ss += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(ss / float64(period))

	b := models.Bollinger{Middle: mean, Upper: mean + k*sd, Lower: mean - k*sd}
	if mean != 0 {
		b.Bandwidth = (b.Upper - b.Lower) / mean
	}
	last := closes[len(closes)-1]
	if width := b.Upper - b.Lower; width > 0 {
		b.PercentB = (last - b.Lower) / width
	} else {
		b.PercentB = 0.5
	}
	return b, true
}
