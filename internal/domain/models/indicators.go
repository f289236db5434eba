package models

import "time"

type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type Alignment string

const (
	AlignBullish Alignment = "bullish"
	AlignBearish Alignment = "bearish"
	AlignMixed   Alignment = "mixed"
)

// EMAStack holds EMAs keyed by period. Periods without enough history are
// absent from Values and listed in Missing.
type EMAStack struct {
	Values  map[int]float64 `json:"values"`
	Missing []int           `json:"missing,omitempty"`
	Aligned Alignment       `json:"aligned"`
}

type Bollinger struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
	PercentB  float64 `json:"percent_b"`
}

type ADX struct {
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
}

type TrendStrength string

const (
	TrendStrong   TrendStrength = "strong"
	TrendModerate TrendStrength = "moderate"
	TrendWeak     TrendStrength = "weak"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

type VolatilityRegime string

const (
	RegimeLow      VolatilityRegime = "low"
	RegimeNormal   VolatilityRegime = "normal"
	RegimeElevated VolatilityRegime = "elevated"
	RegimeHigh     VolatilityRegime = "high"
)

type Classification struct {
	Trend     TrendStrength    `json:"trend"`
	Direction Direction        `json:"direction"`
	VolRegime VolatilityRegime `json:"vol_regime"`
	ATRRatio  float64          `json:"atr_ratio"`
}

// IndicatorSnapshot is the latest indicator set for one symbol and timeframe.
// A nil field means the indicator is unavailable for lack of history.
type IndicatorSnapshot struct {
	Symbol         string          `json:"symbol"`
	Timeframe      Timeframe       `json:"timeframe"`
	Bars           int             `json:"bars"`
	RSI            *float64        `json:"rsi"`
	MACD           *MACD           `json:"macd"`
	EMAStack       *EMAStack       `json:"ema_stack"`
	Bollinger      *Bollinger      `json:"bollinger"`
	ATR            *float64        `json:"atr"`
	ADX            *ADX            `json:"adx"`
	ParabolicSAR   *float64        `json:"parabolic_sar"`
	Classification *Classification `json:"classification"`
	ComputedAt     time.Time       `json:"computed_at"`
}
