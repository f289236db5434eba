package indicators

import (
	"math"

	"FinFusion/internal/domain/models"
)

// ADX is Wilder's average directional index. It needs 2*period+1 bars.
func ADX(bars []models.Bar, period int) (models.ADX, bool) {
	if period <= 0 || len(bars) < 2*period+1 {
		return models.ADX{}, false
	}
	p := float64(period)

	var trS, plusS, minusS float64
	dxs := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		tr := trueRange(bars[i], bars[i-1])

		if i <= period {
			trS += tr
			plusS += plusDM
			minusS += minusDM
			if i < period {
				continue
			}
		} else {
			trS = trS - trS/p + tr
			plusS = plusS - plusS/p + plusDM
			minusS = minusS - minusS/p + minusDM
		}
		dxs = append(dxs, dx(plusS, minusS, trS))
	}

	if len(dxs) < period {
		return models.ADX{}, false
	}
	var adx float64
	for _, v := range dxs[:period] {
		adx += v
	}
	adx /= p
	for _, v := range dxs[period:] {
		adx = (adx*(p-1) + v) / p
	}

	plusDI, minusDI := di(plusS, trS), di(minusS, trS)
	return models.ADX{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}, true
}

func di(dm, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	return 100 * dm / tr
}

func dx(plus, minus, tr float64) float64 {
	pdi, mdi := di(plus, tr), di(minus, tr)
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

// SAR is a Parabolic SAR value with the trend it is trailing.
type SAR struct {
	Value   float64
	Uptrend bool
}

// ParabolicSAR runs Wilder's stop-and-reverse over the bars.
func ParabolicSAR(bars []models.Bar, step, max float64) (SAR, bool) {
	if len(bars) < 2 || step <= 0 || max < step {
		return SAR{}, false
	}

	up := bars[1].Close >= bars[0].Close
	var sar, ep float64
	if up {
		sar, ep = bars[0].Low, bars[1].High
	} else {
		sar, ep = bars[0].High, bars[1].Low
	}
	af := step

	for i := 2; i < len(bars); i++ {
		b := bars[i]
		sar += af * (ep - sar)
		if up {
			// SAR may not sit above the prior two lows
			sar = math.Min(sar, math.Min(bars[i-1].Low, bars[i-2].Low))
			if b.Low < sar {
				up, sar, ep, af = false, ep, b.Low, step
				continue
			}
			if b.High > ep {
				ep = b.High
				af = math.Min(af+step, max)
			}
		} else {
			sar = math.Max(sar, math.Max(bars[i-1].High, bars[i-2].High))
			if b.High > sar {
				up, sar, ep, af = true, ep, b.High, step
				continue
			}
			if b.Low < ep {
				ep = b.Low
				af = math.Min(af+step, max)
			}
		}
	}
	return SAR{Value: sar, Uptrend: up}, true
}
