package service

import "FinFusion/internal/domain/models"

// VolatilityModel fits a conditional volatility model on log returns and
// projects it forward.
type VolatilityModel interface {
	Forecast(symbol string, returns []float64, horizon int) (models.VolatilityForecast, error)
}

// PriceModel fits a sequence model on bars and projects a price path.
type PriceModel interface {
	Forecast(symbol string, bars []models.Bar, horizon int) (models.PriceForecast, error)
}
