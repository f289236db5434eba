package models

import "time"

type SignalStatus string

const (
	SignalProposed SignalStatus = "proposed"
	SignalApproved SignalStatus = "approved"
	SignalRejected SignalStatus = "rejected"
)

// Signal is a candidate trade. Only the risk gate moves it out of proposed.
type Signal struct {
	ID                  string          `json:"id"`
	Symbol              string          `json:"symbol"`
	Side                PositionSide    `json:"side"`
	Confidence          float64         `json:"confidence"`
	RecommendedLeverage float64         `json:"recommended_leverage"`
	EntryPrice          float64         `json:"entry_price,omitempty"` // zero means use the last close
	Source              string          `json:"source,omitempty"`
	RiskLevels          *RiskLevels     `json:"risk_levels,omitempty"`
	Recommendation      *Recommendation `json:"recommendation,omitempty"`
	Status              SignalStatus    `json:"status"`
	Reason              string          `json:"reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	DecidedAt           time.Time       `json:"decided_at,omitempty"`
}

type Recommendation struct {
	Quantity         float64   `json:"quantity"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfits      []float64 `json:"take_profits"`
	PotentialProfits []float64 `json:"potential_profits"`
	Leverage         float64   `json:"leverage"`
	RiskAmount       float64   `json:"risk_amount"`
	Margin           float64   `json:"margin"`
	Notional         float64   `json:"notional"`
}

// Decision is the gate's verdict. Rejections carry a reason and are data,
// not errors.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Signal   Signal `json:"signal"`
}
