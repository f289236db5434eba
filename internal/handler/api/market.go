package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/service/metrics"
	"FinFusion/internal/usecase"
	"FinFusion/pkg/cache"
	xhttp "FinFusion/pkg/http"
	xlogger "FinFusion/pkg/logger"
)

// MarketHandler serves the read-only market endpoints.
type MarketHandler struct {
	view     *usecase.MarketView
	cache    cache.Service
	cacheTTL time.Duration
	metrics  *metrics.APIMetrics
	logger   *xlogger.Logger
}

type MarketOption func(*MarketHandler)

// WithResponseCache caches indicator snapshots for ttl.
func WithResponseCache(c cache.Service, ttl time.Duration) MarketOption {
	return func(h *MarketHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func NewMarketHandler(view *usecase.MarketView, m *metrics.APIMetrics, l *xlogger.Logger, opts ...MarketOption) *MarketHandler {
	h := &MarketHandler{view: view, metrics: m, logger: l.With(xlogger.String("handler", "market"))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ xhttp.Handler = (*MarketHandler)(nil)

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/symbols", h.Symbols)
	g.GET("/quotes/best", h.BestQuote)
	g.GET("/arbitrage", h.Arbitrage)
	g.GET("/tickers/average", h.AverageTicker)
	g.GET("/trades", h.Trades)
	g.GET("/bars", h.Bars)
	g.GET("/indicators", h.Indicators)
	g.GET("/forecast", h.Forecast)
	g.GET("/health", h.Health)
}

// normalizeSymbol upper-cases a BASE/QUOTE symbol.
func normalizeSymbol(raw string) (string, *xhttp.AppError) {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if _, _, ok := models.SplitSymbol(sym); !ok {
		return "", xhttp.NewAppError("ERR_INVALID_SYMBOL", "symbol", "symbol must be BASE/QUOTE", http.StatusBadRequest).
			WithParam("symbol", raw)
	}
	return sym, nil
}

func (h *MarketHandler) fail(c echo.Context, endpoint string, err error) error {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		h.metrics.Error(endpoint, appErr.Code)
	} else {
		h.metrics.Error(endpoint, "ERR_INTERNAL")
		h.logger.Error("request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, err)
}

func (h *MarketHandler) invalid(c echo.Context, endpoint string, verr []xhttp.ValidationError) error {
	h.metrics.Error(endpoint, "ERR_VALIDATION")
	return xhttp.BadRequestResponse(c, verr)
}

func (h *MarketHandler) Symbols(c echo.Context) error {
	syms := h.view.Symbols()
	return xhttp.ListResponse(c, syms, len(syms))
}

func (h *MarketHandler) BestQuote(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "quotes_best", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "quotes_best", appErr)
	}
	q := h.view.BestQuote(sym)
	if q.Exchanges == 0 {
		return h.fail(c, "quotes_best", xhttp.NotFoundErrorf("no live book for %s", sym))
	}
	return xhttp.SuccessResponse(c, q)
}

func (h *MarketHandler) Arbitrage(c echo.Context) error {
	req := &models.ArbitrageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "arbitrage", verr)
	}
	opps := h.view.Arbitrage(req.MinSpreadPct)
	return xhttp.ListResponse(c, opps, len(opps))
}

func (h *MarketHandler) AverageTicker(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "tickers_average", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "tickers_average", appErr)
	}
	t, ok := h.view.AverageTicker(sym)
	if !ok {
		return h.fail(c, "tickers_average", xhttp.NotFoundErrorf("no live ticker for %s", sym))
	}
	return xhttp.SuccessResponse(c, t)
}

func (h *MarketHandler) Trades(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "trades", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "trades", appErr)
	}
	trades := h.view.Trades(sym, req.N)
	return xhttp.ListResponse(c, trades, len(trades))
}

func (h *MarketHandler) timeframe(raw string) (models.Timeframe, *xhttp.AppError) {
	tf := models.Timeframe(raw)
	if !h.view.HasTimeframe(tf) {
		return "", xhttp.NewAppError("ERR_INVALID_TIMEFRAME", "tf", "timeframe is not cached", http.StatusBadRequest).
			WithParam("tf", raw)
	}
	return tf, nil
}

func (h *MarketHandler) Bars(c echo.Context) error {
	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "bars", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "bars", appErr)
	}
	tf, appErr := h.timeframe(req.TF)
	if appErr != nil {
		return h.fail(c, "bars", appErr)
	}
	bars := h.view.Bars(sym, tf, req.N)
	return xhttp.ListResponse(c, bars, len(bars))
}

func (h *MarketHandler) Indicators(c echo.Context) error {
	req := &models.IndicatorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "indicators", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "indicators", appErr)
	}
	tf, appErr := h.timeframe(req.TF)
	if appErr != nil {
		return h.fail(c, "indicators", appErr)
	}

	ctx := c.Request().Context()
	key := cache.Key("indicators", sym, string(tf))
	if snap, ok := h.cached(ctx, key); ok {
		return xhttp.SuccessResponse(c, snap)
	}
	snap := h.view.Indicators(sym, tf)
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, snap, h.cacheTTL); err != nil {
			h.logger.Warn("indicator cache set failed", xlogger.String("key", key), xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *MarketHandler) cached(ctx context.Context, key string) (models.IndicatorSnapshot, bool) {
	var snap models.IndicatorSnapshot
	if h.cache == nil {
		return snap, false
	}
	err := h.cache.Get(ctx, key, &snap)
	switch {
	case err == nil:
		h.logger.Debug("indicator cache hit", xlogger.String("key", key))
		return snap, true
	case !errors.Is(err, cache.ErrCacheMiss):
		h.logger.Warn("indicator cache get failed", xlogger.String("key", key), xlogger.Error(err))
	}
	return snap, false
}

func (h *MarketHandler) Forecast(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.invalid(c, "forecast", verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "forecast", appErr)
	}
	return xhttp.SuccessResponse(c, h.view.Forecast(sym))
}

func (h *MarketHandler) Health(c echo.Context) error {
	health := h.view.Health()
	if health.Total > 0 && health.Connected == 0 {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, health)
	}
	return xhttp.SuccessResponse(c, health)
}
