package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/services/indicators"
)

// tracker owns one position and serializes its ticks.
type tracker struct {
	mu  sync.Mutex
	pos models.Position
	cfg TrailingConfig
	atr int
}

func active(s models.PositionState) bool {
	return s == models.PositionOpen || s == models.PositionTrailingActive || s == models.PositionBreakevenMoved
}

// tighten picks whichever stop is closer to price for the side.
func tighten(side models.PositionSide, current, candidate float64) float64 {
	if side == models.Short {
		return math.Min(current, candidate)
	}
	return math.Max(current, candidate)
}

// setStop panics if the new stop is looser than the current one.
func (t *tracker) setStop(stop float64) {
	p := &t.pos
	if (stop-p.StopLoss)*p.Side.Sign() < 0 {
		panic(fmt.Sprintf("risk: stop for %s loosened from %v to %v", p.Symbol, p.StopLoss, stop))
	}
	p.StopLoss = stop
}

// onPrice advances the state machine and reports whether the position
// closed on this tick. Callers hold t.mu.
func (t *tracker) onPrice(price float64, bars []models.Bar, now time.Time) bool {
	p := &t.pos
	if !active(p.State) || price <= 0 {
		return false
	}
	s := p.Side.Sign()
	p.LastPrice = price
	move := (price - p.EntryPrice) * s
	p.UnrealizedPnl = move * p.Quantity
	p.MaxFavorableExcursion = math.Max(p.MaxFavorableExcursion, move)
	p.MaxAdverseExcursion = math.Min(p.MaxAdverseExcursion, move)

	if (price-p.StopLoss)*s <= 0 {
		t.close(price, models.CloseStopHit, now)
		return true
	}
	for p.TargetsHit < len(p.TakeProfitLevels) && (price-p.TakeProfitLevels[p.TargetsHit])*s >= 0 {
		p.TargetsHit++
	}
	if len(p.TakeProfitLevels) > 0 && p.TargetsHit == len(p.TakeProfitLevels) {
		t.close(price, models.CloseTargetHit, now)
		return true
	}

	if p.State == models.PositionOpen && move >= t.cfg.ActivationATR*p.ATRAtEntry {
		p.State = models.PositionTrailingActive
	}
	if p.State == models.PositionOpen {
		return false
	}

	if candidate, ok := t.trailCandidate(price, bars); ok {
		t.setStop(tighten(p.Side, p.StopLoss, candidate))
	}
	if move >= t.cfg.BreakevenATR*p.ATRAtEntry {
		t.setStop(tighten(p.Side, p.StopLoss, p.EntryPrice))
	}
	if p.State == models.PositionTrailingActive && (p.StopLoss-p.EntryPrice)*s >= 0 {
		p.State = models.PositionBreakevenMoved
	}
	return false
}

func (t *tracker) trailCandidate(price float64, bars []models.Bar) (float64, bool) {
	p := &t.pos
	s := p.Side.Sign()
	switch t.cfg.Method {
	case TrailPercent:
		return price * (1 - s*t.cfg.Percent), true
	case TrailParabolic:
		sar, ok := indicators.ParabolicSAR(bars, t.cfg.SARStep, t.cfg.SARMax)
		if !ok || sar.Uptrend != (p.Side == models.Long) {
			return 0, false
		}
		return sar.Value, true
	default:
		atr, ok := indicators.ATR(bars, t.atr)
		if !ok {
			atr = p.ATRAtEntry
		}
		return price - s*t.cfg.ATRMult*atr, true
	}
}

func (t *tracker) close(price float64, reason models.CloseReason, now time.Time) {
	p := &t.pos
	p.LastPrice = price
	p.RealizedPnl = (price - p.EntryPrice) * p.Side.Sign() * p.Quantity
	p.UnrealizedPnl = 0
	p.State = models.PositionClosed
	p.CloseReason = reason
	p.ClosedAt = now
}

func (t *tracker) snapshot() models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pos
	p.TakeProfitLevels = append([]float64(nil), t.pos.TakeProfitLevels...)
	return p
}
