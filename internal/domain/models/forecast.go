package models

import "time"

type VolatilityBand struct {
	Lower95 float64 `json:"lower_95"`
	Upper95 float64 `json:"upper_95"`
	Lower99 float64 `json:"lower_99"`
	Upper99 float64 `json:"upper_99"`
}

type GARCHParams struct {
	Omega         float64 `json:"omega"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	Persistence   float64 `json:"persistence"`
	LogLikelihood float64 `json:"log_likelihood"`
}

// VolatilityForecast is a per-step volatility path (in log-return units).
type VolatilityForecast struct {
	Symbol     string           `json:"symbol"`
	Horizon    int              `json:"horizon"`
	PerStepVol []float64        `json:"per_step_vol"`
	Bands      []VolatilityBand `json:"bands"`
	Params     GARCHParams      `json:"params"`
	FittedAt   time.Time        `json:"fitted_at"`
}

type LSTMParams struct {
	Hidden    int     `json:"hidden"`
	SeqLen    int     `json:"seq_len"`
	Epochs    int     `json:"epochs"`
	InitLoss  float64 `json:"init_loss"`
	TrainLoss float64 `json:"train_loss"`
}

type PriceForecast struct {
	Symbol          string     `json:"symbol"`
	Horizon         int        `json:"horizon"`
	LastPrice       float64    `json:"last_price"`
	Path            []float64  `json:"path"`
	ConfidenceScore float64    `json:"confidence_score"` // [0,1]
	Params          LSTMParams `json:"params"`
	FittedAt        time.Time  `json:"fitted_at"`
}

type ForecastStatus string

const (
	ForecastAvailable     ForecastStatus = "available"
	ForecastStaleFallback ForecastStatus = "stale_fallback"
	ForecastUnavailable   ForecastStatus = "unavailable"
)

// ForecastResult carries whichever forecasts could be produced. Vol and Price
// are nil when their model had nothing usable.
type ForecastResult struct {
	Symbol      string              `json:"symbol"`
	Status      ForecastStatus      `json:"status"`
	VolStatus   ForecastStatus      `json:"vol_status"`
	PriceStatus ForecastStatus      `json:"price_status"`
	Reason      string              `json:"reason,omitempty"`
	Vol         *VolatilityForecast `json:"vol,omitempty"`
	Price       *PriceForecast      `json:"price,omitempty"`
}
