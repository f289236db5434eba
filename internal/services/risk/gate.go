package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/features"
)

// minCorrelationObs is the overlap below which a pair is not checked.
const minCorrelationObs = 10

var hundred = decimal.NewFromInt(100)

// Gate admits or rejects signals against the portfolio. It is the only code
// that marks a signal approved.
type Gate struct {
	cfg       Config
	portfolio *Portfolio
	bars      BarSource
	newID     func() string
}

type GateOption func(*Gate)

func WithIDGenerator(f func() string) GateOption {
	return func(g *Gate) { g.newID = f }
}

func NewGate(cfg Config, portfolio *Portfolio, bars BarSource, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:       cfg,
		portfolio: portfolio,
		bars:      bars,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Config() Config { return g.cfg }

// Submit evaluates sig against a snapshot taken under the portfolio lock and,
// when approved, reserves a pending position in the same critical section.
func (g *Gate) Submit(sig models.Signal, bars []models.Bar) models.Decision {
	if sig.ID == "" {
		sig.ID = g.newID()
	}

	p := g.portfolio
	p.mu.Lock()
	defer p.mu.Unlock()

	d := g.Evaluate(sig, bars, p.stateLocked(g.bars))
	if !d.Approved {
		return d
	}

	rec := d.Signal.Recommendation
	pos := models.Position{
		ID:               g.newID(),
		SignalID:         sig.ID,
		Symbol:           sig.Symbol,
		Side:             sig.Side,
		EntryPrice:       rec.EntryPrice,
		Quantity:         rec.Quantity,
		Leverage:         rec.Leverage,
		StopLoss:         rec.StopLoss,
		InitialStop:      rec.StopLoss,
		TakeProfitLevels: append([]float64(nil), rec.TakeProfits...),
		ATRAtEntry:       d.Signal.RiskLevels.ATR,
		RiskAmount:       rec.RiskAmount,
		Margin:           rec.Margin,
	}
	if err := p.reserveLocked(pos); err != nil {
		return reject(d.Signal, err.Error())
	}
	return d
}

func reject(sig models.Signal, reason string) models.Decision {
	sig.Status = models.SignalRejected
	sig.Reason = reason
	sig.Recommendation = nil
	return models.Decision{Approved: false, Reason: reason, Signal: sig}
}

// Evaluate is a pure function of its inputs: the same signal, bars and state
// always yield the same decision.
func (g *Gate) Evaluate(sig models.Signal, bars []models.Bar, st State) models.Decision {
	cfg := g.cfg
	sig.Status = models.SignalProposed
	sig.Reason = ""
	sig.DecidedAt = st.At

	if !sig.Side.Valid() {
		return reject(sig, fmt.Sprintf("invalid side %q", sig.Side))
	}
	entry := sig.EntryPrice
	if entry <= 0 && len(bars) > 0 {
		entry = bars[len(bars)-1].Close
	}
	if entry <= 0 {
		return reject(sig, "no entry price")
	}

	lv, err := Levels(sig.Symbol, entry, bars, cfg)
	if err != nil {
		if errors.Is(err, ErrInsufficientHistory) {
			return reject(sig, ErrInsufficientHistory.Error())
		}
		return reject(sig, err.Error())
	}
	sig.RiskLevels = &lv

	stop := lv.StopFor(sig.Side)
	dist := decimal.NewFromFloat(math.Abs(entry - stop))
	if !dist.IsPositive() {
		return reject(sig, "zero stop distance")
	}
	entryD := decimal.NewFromFloat(entry)
	balance := decimal.NewFromFloat(st.Balance)
	budget := balance.Mul(decimal.NewFromFloat(lv.MaxRiskPercent)).Div(hundred)

	qty := budget.Div(dist)
	if cfg.QuantityStep > 0 {
		step := decimal.NewFromFloat(cfg.QuantityStep)
		qty = qty.Div(step).Floor().Mul(step)
	}
	if !qty.IsPositive() {
		return reject(sig, "position size below quantity step")
	}

	leverage := math.Max(1, sig.RecommendedLeverage)
	if cfg.MaxLeverage > 0 {
		leverage = math.Min(leverage, cfg.MaxLeverage)
	}
	riskAmount := qty.Mul(dist)
	notional := qty.Mul(entryD)
	margin := notional.Div(decimal.NewFromFloat(leverage))

	targets := lv.TargetsFor(sig.Side)
	profits := make([]float64, len(targets))
	for i, tp := range targets {
		profits[i] = decimal.NewFromFloat(math.Abs(tp - entry)).Mul(qty).InexactFloat64()
	}
	rec := models.Recommendation{
		Quantity:         qty.InexactFloat64(),
		EntryPrice:       entry,
		StopLoss:         stop,
		TakeProfits:      append([]float64(nil), targets...),
		PotentialProfits: profits,
		Leverage:         leverage,
		RiskAmount:       riskAmount.InexactFloat64(),
		Margin:           margin.InexactFloat64(),
		Notional:         notional.InexactFloat64(),
	}

	for _, pos := range st.Positions {
		if pos.Symbol == sig.Symbol {
			return reject(sig, fmt.Sprintf("position already %s for %s", pos.State, sig.Symbol))
		}
	}
	if reason, halted := st.Halted(cfg); halted {
		return reject(sig, reason)
	}

	free := st.Equity - st.UsedMargin
	if rec.Margin > cfg.MarginCeiling*free {
		return reject(sig, fmt.Sprintf("margin %.2f exceeds %.0f%% of free margin %.2f", rec.Margin, cfg.MarginCeiling*100, free))
	}

	limit := cfg.PortfolioRiskBudget * st.Balance
	if st.OpenRisk+rec.RiskAmount > limit {
		return reject(sig, fmt.Sprintf("portfolio risk %.2f would exceed budget %.2f", st.OpenRisk+rec.RiskAmount, limit))
	}

	for _, pos := range st.Positions {
		x, y := features.AlignedReturns(bars, st.PeerBars[pos.Symbol], cfg.CorrelationWindow)
		c, ok := features.Correlation(x, y, minCorrelationObs)
		if ok && math.Abs(c) >= cfg.CorrelationThreshold {
			return reject(sig, fmt.Sprintf("correlation %.2f with open %s exceeds %.2f", c, pos.Symbol, cfg.CorrelationThreshold))
		}
	}

	sig.Status = models.SignalApproved
	sig.Recommendation = &rec
	return models.Decision{Approved: true, Signal: sig}
}
