package risk

import (
	"errors"
	"fmt"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/indicators"
)

var ErrInsufficientHistory = errors.New("insufficient history for ATR")

// Levels derives ATR-based stops and targets around entry. Without enough
// ATR values for a regime ratio the regime is normal.
func Levels(symbol string, entry float64, bars []models.Bar, cfg Config) (models.RiskLevels, error) {
	if entry <= 0 {
		return models.RiskLevels{}, fmt.Errorf("invalid entry price %v", entry)
	}
	series := indicators.ATRSeries(bars, cfg.ATRPeriod)
	if len(series) == 0 {
		return models.RiskLevels{}, ErrInsufficientHistory
	}
	atr := series[len(series)-1]
	if atr <= 0 {
		return models.RiskLevels{}, fmt.Errorf("zero ATR: %w", ErrInsufficientHistory)
	}

	regime, ratio := models.RegimeNormal, 1.0
	if r, ok := indicators.ATRRatio(series, cfg.Thresholds.RegimeWindow); ok {
		regime, ratio = indicators.Regime(r, cfg.Thresholds), r
	}

	stopDist := cfg.SLATRMultiplier * atr
	lv := models.RiskLevels{
		Symbol:           symbol,
		EntryPrice:       entry,
		ATR:              atr,
		VolatilityRegime: regime,
		ATRRatio:         ratio,
		StopLossLong:     entry - stopDist,
		StopLossShort:    entry + stopDist,
		TakeProfitLong:   make([]float64, len(cfg.TPMultipliers)),
		TakeProfitShort:  make([]float64, len(cfg.TPMultipliers)),
		RiskRewardRatios: make([]float64, len(cfg.TPMultipliers)),
		MaxRiskPercent:   cfg.RegimeRiskPct[regime],
	}
	for i, m := range cfg.TPMultipliers {
		lv.TakeProfitLong[i] = entry + m*atr
		lv.TakeProfitShort[i] = entry - m*atr
		lv.RiskRewardRatios[i] = m / cfg.SLATRMultiplier
	}
	return lv, nil
}
