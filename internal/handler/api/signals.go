package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/service/metrics"
	"FinFusion/internal/service/ratelimit"
	"FinFusion/internal/services/risk"
	"FinFusion/internal/usecase"
	xhttp "FinFusion/pkg/http"
	xlogger "FinFusion/pkg/logger"
)

// SignalsHandler accepts trade proposals and manages the resulting
// positions.
type SignalsHandler struct {
	svc     *usecase.SignalService
	bars    risk.BarSource
	limiter ratelimit.Limiter
	metrics *metrics.APIMetrics
	logger  *xlogger.Logger
}

func NewSignalsHandler(svc *usecase.SignalService, bars risk.BarSource, limiter ratelimit.Limiter, m *metrics.APIMetrics, l *xlogger.Logger) *SignalsHandler {
	return &SignalsHandler{
		svc:     svc,
		bars:    bars,
		limiter: limiter,
		metrics: m,
		logger:  l.With(xlogger.String("handler", "signals")),
	}
}

var _ xhttp.Handler = (*SignalsHandler)(nil)

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/signals", h.Submit)
	g.GET("/signals/decisions", h.Decisions)
	g.GET("/portfolio", h.Portfolio)
	g.POST("/positions/fill", h.Fill)
	g.POST("/positions/cancel", h.Cancel)
	g.POST("/positions/close", h.Close)
}

func (h *SignalsHandler) fail(c echo.Context, endpoint string, err error) error {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		h.metrics.Error(endpoint, appErr.Code)
	} else {
		h.metrics.Error(endpoint, "ERR_INTERNAL")
		h.logger.Error("request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, err)
}

// allow fails open when the limiter backend errors.
func (h *SignalsHandler) allow(c echo.Context, endpoint string) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(c.Request().Context(), endpoint+":"+c.RealIP())
	if err != nil {
		h.logger.Warn("rate limiter unavailable", xlogger.String("endpoint", endpoint), xlogger.Error(err))
		return true
	}
	if !ok {
		h.metrics.RateLimited(endpoint)
		h.logger.Warn("rate limited", xlogger.String("endpoint", endpoint), xlogger.String("remote", c.RealIP()))
	}
	return ok
}

func (h *SignalsHandler) Submit(c echo.Context) error {
	if !h.allow(c, "signals") {
		return h.fail(c, "signals", xhttp.TooManyRequestsError())
	}
	req := &models.ProposeSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("signals", "ERR_VALIDATION")
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, appErr := normalizeSymbol(req.Symbol); appErr != nil {
		return h.fail(c, "signals", appErr)
	}
	sig := usecase.SignalFromProposal(*req)
	if sig.Source == "" {
		sig.Source = "http"
	}

	d, err := h.svc.Submit(c.Request().Context(), sig)
	if err != nil {
		h.metrics.EmitFailed()
		return h.fail(c, "signals", xhttp.UnavailableErrorf("signal %s approved but could not be emitted", d.Signal.ID).WithError(err))
	}
	h.metrics.Decision(d.Approved)
	return xhttp.SuccessResponse(c, d)
}

func (h *SignalsHandler) Decisions(c echo.Context) error {
	req := &models.DecisionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("decisions", "ERR_VALIDATION")
		return xhttp.BadRequestResponse(c, verr)
	}
	ds := h.svc.Recent(req.N)
	return xhttp.ListResponse(c, ds, len(ds))
}

// PortfolioView is the body of GET /api/portfolio.
type PortfolioView struct {
	Metrics   models.PortfolioMetrics `json:"metrics"`
	Positions []models.Position       `json:"positions"`
	Closed    []models.Position       `json:"closed"`
}

func (h *SignalsHandler) Portfolio(c echo.Context) error {
	p := h.svc.Portfolio()
	return xhttp.SuccessResponse(c, PortfolioView{
		Metrics:   p.Metrics(h.bars),
		Positions: p.Positions(),
		Closed:    p.Closed(),
	})
}

// positionError maps portfolio errors onto API errors.
func positionError(err error) error {
	switch {
	case errors.Is(err, risk.ErrUnknownSignal), errors.Is(err, risk.ErrNoOpenPosition):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	case errors.Is(err, risk.ErrNotPending), errors.Is(err, risk.ErrPositionExists):
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case errors.Is(err, risk.ErrFillTooLarge), errors.Is(err, risk.ErrInvalidFill):
		return xhttp.BadRequestErrorf("%v", err).WithError(err)
	}
	return err
}

func (h *SignalsHandler) Fill(c echo.Context) error {
	req := &models.FillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("positions_fill", "ERR_VALIDATION")
		return xhttp.BadRequestResponse(c, verr)
	}
	pos, err := h.svc.Portfolio().ConfirmFill(req.SignalID, req.Price, req.Quantity)
	if err != nil {
		return h.fail(c, "positions_fill", positionError(err))
	}
	h.logger.Info("fill confirmed", xlogger.String("signal_id", req.SignalID), xlogger.String("symbol", pos.Symbol), xlogger.Float("price", pos.EntryPrice))
	return xhttp.SuccessResponse(c, pos)
}

func (h *SignalsHandler) Cancel(c echo.Context) error {
	req := &models.CancelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("positions_cancel", "ERR_VALIDATION")
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.Portfolio().Cancel(req.SignalID); err != nil {
		return h.fail(c, "positions_cancel", positionError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"signal_id": req.SignalID, "status": "cancelled"})
}

func (h *SignalsHandler) Close(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		h.metrics.Error("positions_close", "ERR_VALIDATION")
		return xhttp.BadRequestResponse(c, verr)
	}
	sym, appErr := normalizeSymbol(req.Symbol)
	if appErr != nil {
		return h.fail(c, "positions_close", appErr)
	}
	pos, err := h.svc.Portfolio().ClosePosition(sym, req.Price, models.CloseManualClose)
	if err != nil {
		return h.fail(c, "positions_close", positionError(err))
	}
	h.logger.Info("position closed", xlogger.String("symbol", sym), xlogger.Float("realized_pnl", pos.RealizedPnl))
	return xhttp.SuccessResponse(c, pos)
}
