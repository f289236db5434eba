package forecast

import (
	"errors"
	"strings"
	"sync"
	"time"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/domain/service"
	"FinFusion/internal/service/cache"
	"FinFusion/internal/services/features"
	"FinFusion/pkg/logger"
)

const (
	ModelGARCH = "garch"
	ModelLSTM  = "lstm"
)

// Engine refits both models for a symbol and keeps the latest result. The
// last good forecast of each model stays usable until its TTL runs out.
type Engine struct {
	vol     service.VolatilityModel
	price   service.PriceModel
	horizon int
	ttl     time.Duration
	now     func() time.Time
	logger  *logger.Logger

	lastVol   *cache.TTLCache[models.VolatilityForecast]
	lastPrice *cache.TTLCache[models.PriceForecast]

	mu      sync.RWMutex
	current map[string]models.ForecastResult
}

type EngineOption func(*Engine)

func WithHorizon(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.horizon = n
		}
	}
}

func WithTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(vol service.VolatilityModel, price service.PriceModel, opts ...EngineOption) *Engine {
	e := &Engine{
		vol:     vol,
		price:   price,
		horizon: 5,
		ttl:     15 * time.Minute,
		now:     time.Now,
		logger:  logger.Nop(),
		current: make(map[string]models.ForecastResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastVol = cache.NewTTLCache[models.VolatilityForecast](cache.WithClock[models.VolatilityForecast](e.now))
	e.lastPrice = cache.NewTTLCache[models.PriceForecast](cache.WithClock[models.PriceForecast](e.now))
	return e
}

// Refit fits both models on bars (oldest first) and stores the outcome.
func (e *Engine) Refit(symbol string, bars []models.Bar) models.ForecastResult {
	res := models.ForecastResult{Symbol: symbol}
	var reasons []string
	now := e.now()

	vf, err := e.vol.Forecast(symbol, features.BarLogReturns(bars), e.horizon)
	if err == nil {
		vf.FittedAt = now
		e.lastVol.Set(symbol, vf, e.ttl)
		res.Vol, res.VolStatus = &vf, models.ForecastAvailable
	} else {
		reasons = append(reasons, ModelGARCH+": "+reason(err))
		if last, ok := e.lastVol.Get(symbol); ok && !errors.Is(err, ErrInsufficientHistory) {
			res.Vol, res.VolStatus = &last, models.ForecastStaleFallback
		} else {
			res.VolStatus = models.ForecastUnavailable
		}
		e.logger.Debug("volatility fit failed", logger.String("symbol", symbol), logger.Error(err))
	}

	pf, err := e.price.Forecast(symbol, bars, e.horizon)
	if err == nil {
		pf.FittedAt = now
		e.lastPrice.Set(symbol, pf, e.ttl)
		res.Price, res.PriceStatus = &pf, models.ForecastAvailable
	} else {
		reasons = append(reasons, ModelLSTM+": "+reason(err))
		if last, ok := e.lastPrice.Get(symbol); ok && !errors.Is(err, ErrInsufficientHistory) {
			res.Price, res.PriceStatus = &last, models.ForecastStaleFallback
		} else {
			res.PriceStatus = models.ForecastUnavailable
		}
		e.logger.Debug("price fit failed", logger.String("symbol", symbol), logger.Error(err))
	}

	res.Status = overall(res.VolStatus, res.PriceStatus)
	res.Reason = strings.Join(reasons, "; ")

	e.mu.Lock()
	e.current[symbol] = res
	e.mu.Unlock()
	return res
}

// Get returns the stored result for symbol with expired parts dropped.
func (e *Engine) Get(symbol string) models.ForecastResult {
	e.mu.RLock()
	res, ok := e.current[symbol]
	e.mu.RUnlock()
	if !ok {
		return models.ForecastResult{
			Symbol:      symbol,
			Status:      models.ForecastUnavailable,
			VolStatus:   models.ForecastUnavailable,
			PriceStatus: models.ForecastUnavailable,
			Reason:      "not fitted",
		}
	}

	now := e.now()
	if res.Vol != nil && now.Sub(res.Vol.FittedAt) > e.ttl {
		res.Vol, res.VolStatus = nil, models.ForecastUnavailable
		res.Reason = appendReason(res.Reason, ModelGARCH+": expired")
	}
	if res.Price != nil && now.Sub(res.Price.FittedAt) > e.ttl {
		res.Price, res.PriceStatus = nil, models.ForecastUnavailable
		res.Reason = appendReason(res.Reason, ModelLSTM+": expired")
	}
	res.Status = overall(res.VolStatus, res.PriceStatus)
	return res
}

// overall is the best of the per-model statuses.
func overall(a, b models.ForecastStatus) models.ForecastStatus {
	switch {
	case a == models.ForecastAvailable || b == models.ForecastAvailable:
		return models.ForecastAvailable
	case a == models.ForecastStaleFallback || b == models.ForecastStaleFallback:
		return models.ForecastStaleFallback
	default:
		return models.ForecastUnavailable
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientHistory):
		return ErrInsufficientHistory.Error()
	case errors.Is(err, ErrNotConverged):
		return ErrNotConverged.Error()
	default:
		return err.Error()
	}
}

func appendReason(cur, add string) string {
	if cur == "" {
		return add
	}
	return cur + "; " + add
}
