package models

import "time"

type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Sign is +1 for long and -1 for short.
func (s PositionSide) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s PositionSide) Valid() bool { return s == Long || s == Short }

type PositionState string

const (
	PositionPending        PositionState = "pending"
	PositionOpen           PositionState = "open"
	PositionTrailingActive PositionState = "trailing_active"
	PositionBreakevenMoved PositionState = "breakeven_moved"
	PositionClosed         PositionState = "closed"
)

type CloseReason string

const (
	CloseStopHit     CloseReason = "stop_hit"
	CloseTargetHit   CloseReason = "target_hit"
	CloseManualClose CloseReason = "manual_close"
)

type Position struct {
	ID                    string        `json:"id"`
	SignalID              string        `json:"signal_id"`
	Symbol                string        `json:"symbol"`
	Side                  PositionSide  `json:"side"`
	EntryPrice            float64       `json:"entry_price"`
	Quantity              float64       `json:"quantity"`
	Leverage              float64       `json:"leverage"`
	StopLoss              float64       `json:"stop_loss"`
	InitialStop           float64       `json:"initial_stop"`
	TakeProfitLevels      []float64     `json:"take_profit_levels"`
	ATRAtEntry            float64       `json:"atr_at_entry"`
	RiskAmount            float64       `json:"risk_amount"`
	Margin                float64       `json:"margin"`
	LastPrice             float64       `json:"last_price"`
	UnrealizedPnl         float64       `json:"unrealized_pnl"`
	RealizedPnl           float64       `json:"realized_pnl"`
	MaxFavorableExcursion float64       `json:"max_favorable_excursion"`
	MaxAdverseExcursion   float64       `json:"max_adverse_excursion"`
	TargetsHit            int           `json:"targets_hit"`
	State                 PositionState `json:"state"`
	CloseReason           CloseReason   `json:"close_reason,omitempty"`
	OpenedAt              time.Time     `json:"opened_at"`
	ClosedAt              time.Time     `json:"closed_at,omitempty"`
}

// OpenRisk is the loss if the current stop is hit, floored at zero once the
// stop is past entry.
func (p Position) OpenRisk() float64 {
	if p.State == PositionClosed {
		return 0
	}
	risk := (p.EntryPrice - p.StopLoss) * p.Side.Sign() * p.Quantity
	if risk < 0 {
		return 0
	}
	return risk
}

type PortfolioMetrics struct {
	Balance           float64    `json:"balance"`
	TotalValue        float64    `json:"total_value"`
	UsedMargin        float64    `json:"used_margin"`
	AvailableMargin   float64    `json:"available_margin"`
	UnrealizedPnl     float64    `json:"unrealized_pnl"`
	RealizedPnl       float64    `json:"realized_pnl"`
	DailyPnl          float64    `json:"daily_pnl"`
	OpenRisk          float64    `json:"open_risk"`
	RiskBudgetUsedPct float64    `json:"risk_budget_used_pct"`
	MaxDrawdown       float64    `json:"max_drawdown"`
	WinRate           float64    `json:"win_rate"`
	ProfitFactor      float64    `json:"profit_factor"`
	TotalTrades       int        `json:"total_trades"`
	RiskScore         int        `json:"risk_score"`
	CorrelationRisk   float64    `json:"correlation_risk"`
	OpenPositions     int        `json:"open_positions"`
	Positions         []Position `json:"positions"`
}
