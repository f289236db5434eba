package models

// RiskLevels is derived fresh for every evaluation and never cached.
type RiskLevels struct {
	Symbol           string           `json:"symbol"`
	EntryPrice       float64          `json:"entry_price"`
	ATR              float64          `json:"atr"`
	VolatilityRegime VolatilityRegime `json:"volatility_regime"`
	ATRRatio         float64          `json:"atr_ratio"`
	StopLossLong     float64          `json:"stop_loss_long"`
	StopLossShort    float64          `json:"stop_loss_short"`
	TakeProfitLong   []float64        `json:"take_profit_long"`
	TakeProfitShort  []float64        `json:"take_profit_short"`
	RiskRewardRatios []float64        `json:"risk_reward_ratios"`
	MaxRiskPercent   float64          `json:"max_risk_percent"`
}

// StopFor returns the stop for the given position side.
func (l RiskLevels) StopFor(side PositionSide) float64 {
	if side == Short {
		return l.StopLossShort
	}
	return l.StopLossLong
}

// TargetsFor returns the take-profit ladder for the given position side.
func (l RiskLevels) TargetsFor(side PositionSide) []float64 {
	if side == Short {
		return l.TakeProfitShort
	}
	return l.TakeProfitLong
}
