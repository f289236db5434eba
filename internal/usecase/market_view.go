package usecase

import (
	"time"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/aggregator"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/forecast"
	"FinFusion/internal/services/indicators"
)

// HealthSource reports feed health.
type HealthSource interface {
	Health() models.FeedHealth
}

// MarketView is the read side used by the HTTP API.
type MarketView struct {
	agg    *aggregator.Aggregator
	bars   *bars.Cache
	engine *forecast.Engine
	health HealthSource
	indCfg indicators.Config
	now    func() time.Time
}

func NewMarketView(agg *aggregator.Aggregator, cache *bars.Cache, engine *forecast.Engine, health HealthSource, indCfg indicators.Config) *MarketView {
	return &MarketView{agg: agg, bars: cache, engine: engine, health: health, indCfg: indCfg, now: time.Now}
}

func (v *MarketView) BestQuote(symbol string) models.BestQuote { return v.agg.BestBidAsk(symbol) }

func (v *MarketView) Arbitrage(minSpreadPct float64) []models.BestQuote {
	return v.agg.ArbitrageOpportunities(minSpreadPct)
}

func (v *MarketView) AverageTicker(symbol string) (models.AveragedTicker, bool) {
	return v.agg.AverageTicker(symbol)
}

func (v *MarketView) Trades(symbol string, n int) []models.Trade { return v.agg.RecentTrades(symbol, n) }

func (v *MarketView) Bars(symbol string, tf models.Timeframe, n int) []models.Bar {
	return v.bars.Bars(symbol, tf, n)
}

// Indicators computes a snapshot over the full cached history of tf.
func (v *MarketView) Indicators(symbol string, tf models.Timeframe) models.IndicatorSnapshot {
	return indicators.Compute(symbol, tf, v.bars.Bars(symbol, tf, v.bars.Capacity()), v.indCfg, v.now().UTC())
}

func (v *MarketView) Forecast(symbol string) models.ForecastResult { return v.engine.Get(symbol) }

func (v *MarketView) Health() models.FeedHealth { return v.health.Health() }

func (v *MarketView) Symbols() []string { return v.agg.Symbols() }

func (v *MarketView) HasTimeframe(tf models.Timeframe) bool {
	for _, t := range v.bars.Timeframes() {
		if t == tf {
			return true
		}
	}
	return false
}
