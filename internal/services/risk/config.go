package risk

import (
	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/indicators"
)

type TrailingMethod string

const (
	TrailATR       TrailingMethod = "atr"
	TrailPercent   TrailingMethod = "percent"
	TrailParabolic TrailingMethod = "parabolic"
)

type TrailingConfig struct {
	Method        TrailingMethod
	ActivationATR float64
	ATRMult       float64
	Percent       float64
	BreakevenATR  float64
	SARStep       float64
	SARMax        float64
}

// Config parametrizes level derivation, admission checks and position
// management. Percentages in RegimeRiskPct are whole percents; the other
// limits are fractions.
type Config struct {
	RegimeRiskPct        map[models.VolatilityRegime]float64
	ATRPeriod            int
	SLATRMultiplier      float64
	TPMultipliers        []float64
	MarginCeiling        float64
	PortfolioRiskBudget  float64
	CorrelationThreshold float64
	CorrelationWindow    int
	MaxLeverage          float64
	QuantityStep         float64
	DailyLossLimit       float64
	MaxDrawdown          float64
	Timeframe            models.Timeframe
	Thresholds           indicators.Thresholds
	Trailing             TrailingConfig
}

func DefaultConfig() Config {
	return Config{
		RegimeRiskPct: map[models.VolatilityRegime]float64{
			models.RegimeLow:      3,
			models.RegimeNormal:   2,
			models.RegimeElevated: 1.5,
			models.RegimeHigh:     1,
		},
		ATRPeriod:            14,
		SLATRMultiplier:      2,
		TPMultipliers:        []float64{2, 3, 4},
		MarginCeiling:        0.8,
		PortfolioRiskBudget:  0.06,
		CorrelationThreshold: 0.7,
		CorrelationWindow:    30,
		MaxLeverage:          10,
		QuantityStep:         0.0001,
		DailyLossLimit:       0.05,
		MaxDrawdown:          0.25,
		Timeframe:            models.TF1h,
		Thresholds:           indicators.DefaultThresholds(),
		Trailing: TrailingConfig{
			Method:        TrailATR,
			ActivationATR: 1,
			ATRMult:       1.5,
			Percent:       0.02,
			BreakevenATR:  1,
			SARStep:       0.02,
			SARMax:        0.2,
		},
	}
}

// BarSource supplies closed-bar history for correlation and trailing stops.
type BarSource interface {
	Bars(symbol string, tf models.Timeframe, n int) []models.Bar
}
