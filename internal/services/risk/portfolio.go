package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/features"
)

var (
	ErrUnknownSignal   = errors.New("unknown signal")
	ErrNotPending      = errors.New("position is not pending")
	ErrNoOpenPosition  = errors.New("no open position for symbol")
	ErrPositionExists  = errors.New("position already exists for symbol")
	ErrInvalidFill     = errors.New("invalid fill")
	ErrFillTooLarge    = errors.New("fill exceeds reserved quantity")
)

// maxClosedKept bounds the closed-trade history held for metrics.
const maxClosedKept = 1000

type PortfolioOption func(*Portfolio)

func WithPortfolioClock(now func() time.Time) PortfolioOption {
	return func(p *Portfolio) { p.now = now }
}

// Portfolio tracks balance and positions. The position set is guarded by mu;
// each position has its own lock so ticks on different symbols run in
// parallel under the read lock.
type Portfolio struct {
	cfg Config
	now func() time.Time

	mu        sync.RWMutex
	positions map[string]*tracker // by symbol, pending or active
	bySignal  map[string]string   // signal id -> symbol

	balance     decimal.Decimal
	realized    decimal.Decimal
	peakEquity  decimal.Decimal
	dayStart    decimal.Decimal
	day         time.Time
	maxDrawdown float64

	closed       []models.Position
	wins, losses int
	grossProfit  decimal.Decimal
	grossLoss    decimal.Decimal
}

func NewPortfolio(balance float64, cfg Config, opts ...PortfolioOption) *Portfolio {
	b := decimal.NewFromFloat(balance)
	p := &Portfolio{
		cfg:        cfg,
		now:        time.Now,
		positions:  make(map[string]*tracker),
		bySignal:   make(map[string]string),
		balance:    b,
		peakEquity: b,
		dayStart:   b,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.day = dayOf(p.now())
	return p
}

func dayOf(t time.Time) time.Time { return t.UTC().Truncate(24 * time.Hour) }

// State is a consistent view of the portfolio taken for admission.
type State struct {
	At         time.Time
	Balance    float64
	Equity     float64
	UsedMargin float64
	OpenRisk   float64
	DailyPnl   float64
	Drawdown   float64
	Positions  []models.Position
	// PeerBars holds recent bars of every symbol in Positions.
	PeerBars map[string][]models.Bar
}

// Halted reports the breaker that stops new admissions, if any.
func (s State) Halted(cfg Config) (string, bool) {
	if s.Balance > 0 && cfg.DailyLossLimit > 0 && s.DailyPnl <= -cfg.DailyLossLimit*s.Balance {
		return "trading halted: daily loss limit reached", true
	}
	if cfg.MaxDrawdown > 0 && s.Drawdown >= cfg.MaxDrawdown {
		return "trading halted: max drawdown reached", true
	}
	return "", false
}

// stateLocked must be called with mu held for writing.
func (p *Portfolio) stateLocked(bars BarSource) State {
	now := p.now()
	st := State{At: now, Positions: make([]models.Position, 0, len(p.positions))}

	var unrealized float64
	for _, t := range p.positions {
		pos := t.snapshot()
		st.Positions = append(st.Positions, pos)
		st.UsedMargin += pos.Margin
		st.OpenRisk += pos.OpenRisk()
		unrealized += pos.UnrealizedPnl
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })

	equity := p.balance.Add(decimal.NewFromFloat(unrealized))
	p.rollDayLocked(now, equity)
	p.trackDrawdownLocked(equity)

	st.Balance = p.balance.InexactFloat64()
	st.Equity = equity.InexactFloat64()
	st.DailyPnl = equity.Sub(p.dayStart).InexactFloat64()
	st.Drawdown = p.drawdownLocked(equity)

	if bars != nil && len(st.Positions) > 0 {
		st.PeerBars = make(map[string][]models.Bar, len(st.Positions))
		for _, pos := range st.Positions {
			st.PeerBars[pos.Symbol] = bars.Bars(pos.Symbol, p.cfg.Timeframe, p.cfg.CorrelationWindow+1)
		}
	}
	return st
}

func (p *Portfolio) rollDayLocked(now time.Time, equity decimal.Decimal) {
	if d := dayOf(now); d.After(p.day) {
		p.day = d
		p.dayStart = equity
	}
}

func (p *Portfolio) trackDrawdownLocked(equity decimal.Decimal) {
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
	if dd := p.drawdownLocked(equity); dd > p.maxDrawdown {
		p.maxDrawdown = dd
	}
}

func (p *Portfolio) drawdownLocked(equity decimal.Decimal) float64 {
	if !p.peakEquity.IsPositive() {
		return 0
	}
	return p.peakEquity.Sub(equity).Div(p.peakEquity).InexactFloat64()
}

// reserveLocked records an approved signal as a pending position.
func (p *Portfolio) reserveLocked(pos models.Position) error {
	if _, ok := p.positions[pos.Symbol]; ok {
		return ErrPositionExists
	}
	pos.State = models.PositionPending
	p.positions[pos.Symbol] = &tracker{pos: pos, cfg: p.cfg.Trailing, atr: p.cfg.ATRPeriod}
	p.bySignal[pos.SignalID] = pos.Symbol
	return nil
}

func (p *Portfolio) pendingLocked(signalID string) (*tracker, error) {
	sym, ok := p.bySignal[signalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, signalID)
	}
	t, ok := p.positions[sym]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, signalID)
	}
	return t, nil
}

// ConfirmFill opens the pending position reserved for signalID. A zero qty
// keeps the reserved quantity and a larger one is rejected; a price shifts
// stops and targets by the slippage from the planned entry.
func (p *Portfolio) ConfirmFill(signalID string, price, qty float64) (models.Position, error) {
	if price <= 0 || qty < 0 {
		return models.Position{}, ErrInvalidFill
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.pendingLocked(signalID)
	if err != nil {
		return models.Position{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := &t.pos
	if pos.State != models.PositionPending {
		return models.Position{}, fmt.Errorf("%w: %s is %s", ErrNotPending, signalID, pos.State)
	}

	// a fill may be partial but never larger than what the gate admitted
	if qty > pos.Quantity*(1+1e-9) {
		return models.Position{}, fmt.Errorf("%w: %s filled %g of %g", ErrFillTooLarge, signalID, qty, pos.Quantity)
	}

	shift := price - pos.EntryPrice
	pos.EntryPrice = price
	pos.StopLoss += shift
	pos.InitialStop = pos.StopLoss
	for i := range pos.TakeProfitLevels {
		pos.TakeProfitLevels[i] += shift
	}
	if qty > 0 {
		pos.Quantity = qty
	}
	if pos.Leverage > 0 {
		pos.Margin = pos.Quantity * price / pos.Leverage
	}
	pos.RiskAmount = math.Abs(price-pos.StopLoss) * pos.Quantity
	pos.LastPrice = price
	pos.State = models.PositionOpen
	pos.OpenedAt = p.now()
	return *pos, nil
}

// Cancel drops a pending reservation.
func (p *Portfolio) Cancel(signalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.pendingLocked(signalID)
	if err != nil {
		return err
	}
	pos := t.snapshot()
	if pos.State != models.PositionPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, signalID, pos.State)
	}
	delete(p.positions, pos.Symbol)
	delete(p.bySignal, signalID)
	return nil
}

// OnPrice feeds a tick to the symbol's position. It reports the closed
// position when the tick closed it.
func (p *Portfolio) OnPrice(symbol string, price float64, bars []models.Bar) (models.Position, bool) {
	p.mu.RLock()
	t, ok := p.positions[symbol]
	p.mu.RUnlock()
	if !ok {
		return models.Position{}, false
	}

	t.mu.Lock()
	closed := t.onPrice(price, bars, p.now())
	t.mu.Unlock()
	if !closed {
		return models.Position{}, false
	}
	return p.settle(symbol, t)
}

// ClosePosition closes the active position on symbol at price.
func (p *Portfolio) ClosePosition(symbol string, price float64, reason models.CloseReason) (models.Position, error) {
	if price <= 0 {
		return models.Position{}, fmt.Errorf("invalid close price %v", price)
	}
	p.mu.RLock()
	t, ok := p.positions[symbol]
	p.mu.RUnlock()
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
	}

	t.mu.Lock()
	if !active(t.pos.State) {
		t.mu.Unlock()
		return models.Position{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
	}
	t.close(price, reason, p.now())
	t.mu.Unlock()

	pos, _ := p.settle(symbol, t)
	return pos, nil
}

// settle books a closed position. Only the caller that removes it from the
// set books the PnL.
func (p *Portfolio) settle(symbol string, t *tracker) (models.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.positions[symbol]; !ok || cur != t {
		return models.Position{}, false
	}
	pos := t.snapshot()
	delete(p.positions, symbol)
	delete(p.bySignal, pos.SignalID)

	pnl := decimal.NewFromFloat(pos.RealizedPnl)
	p.balance = p.balance.Add(pnl)
	p.realized = p.realized.Add(pnl)
	switch {
	case pnl.IsPositive():
		p.wins++
		p.grossProfit = p.grossProfit.Add(pnl)
	case pnl.IsNegative():
		p.losses++
		p.grossLoss = p.grossLoss.Add(pnl.Neg())
	}
	p.closed = append(p.closed, pos)
	if len(p.closed) > maxClosedKept {
		p.closed = p.closed[len(p.closed)-maxClosedKept:]
	}
	p.rollDayLocked(p.now(), p.balance)
	p.trackDrawdownLocked(p.balance)
	return pos, true
}

// Positions lists pending and active positions by symbol.
func (p *Portfolio) Positions() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, t := range p.positions {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Has reports whether symbol has a pending or active position.
func (p *Portfolio) Has(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[symbol]
	return ok
}

func (p *Portfolio) Position(symbol string) (models.Position, bool) {
	p.mu.RLock()
	t, ok := p.positions[symbol]
	p.mu.RUnlock()
	if !ok {
		return models.Position{}, false
	}
	return t.snapshot(), true
}

// Closed returns the retained closed-trade history, oldest first.
func (p *Portfolio) Closed() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Position(nil), p.closed...)
}

// Snapshot takes a consistent state with peer bars from bars.
func (p *Portfolio) Snapshot(bars BarSource) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked(bars)
}

// Metrics summarizes the portfolio. Correlation risk is the largest
// absolute return correlation among active positions.
func (p *Portfolio) Metrics(bars BarSource) models.PortfolioMetrics {
	p.mu.Lock()
	st := p.stateLocked(bars)
	m := models.PortfolioMetrics{
		Balance:       st.Balance,
		TotalValue:    st.Equity,
		UsedMargin:    st.UsedMargin,
		RealizedPnl:   p.realized.InexactFloat64(),
		DailyPnl:      st.DailyPnl,
		OpenRisk:      st.OpenRisk,
		MaxDrawdown:   p.maxDrawdown,
		TotalTrades:   p.wins + p.losses,
		Positions:     st.Positions,
		OpenPositions: len(st.Positions),
	}
	if total := p.wins + p.losses; total > 0 {
		m.WinRate = float64(p.wins) / float64(total)
	}
	// undefined, left at zero, until there is a losing trade
	if p.grossLoss.IsPositive() {
		m.ProfitFactor = p.grossProfit.Div(p.grossLoss).InexactFloat64()
	}
	p.mu.Unlock()

	m.AvailableMargin = math.Max(0, st.Equity-st.UsedMargin)
	m.UnrealizedPnl = st.Equity - st.Balance
	if budget := p.cfg.PortfolioRiskBudget * st.Balance; budget > 0 {
		m.RiskBudgetUsedPct = st.OpenRisk / budget * 100
	}

	var marginUsage, lossRatio float64
	if st.Equity > 0 {
		marginUsage = st.UsedMargin / st.Equity
	}
	if st.Balance > 0 && m.UnrealizedPnl < 0 {
		lossRatio = -m.UnrealizedPnl / st.Balance
	}
	m.RiskScore = int(marginUsage*5 + lossRatio*5)
	m.RiskScore = max(1, min(10, m.RiskScore))

	for i := 0; i < len(st.Positions); i++ {
		for j := i + 1; j < len(st.Positions); j++ {
			a, b := st.PeerBars[st.Positions[i].Symbol], st.PeerBars[st.Positions[j].Symbol]
			x, y := features.AlignedReturns(a, b, p.cfg.CorrelationWindow)
			if c, ok := features.Correlation(x, y, minCorrelationObs); ok {
				m.CorrelationRisk = math.Max(m.CorrelationRisk, math.Abs(c))
			}
		}
	}
	return m
}
