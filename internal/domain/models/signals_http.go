package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type SymbolRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type ArbitrageRequest struct {
	MinSpreadPct float64 `query:"min_spread_pct" json:"min_spread_pct" validate:"gte=0"`
}

type TradesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"100" validate:"gte=1,lte=1000"`
}

type BarsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m 15m 1h 4h"`
	N      int    `query:"n" json:"n" default:"200" validate:"gte=1,lte=5000"`
}

type IndicatorsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m 15m 1h 4h"`
}

type ProposeSignalRequest struct {
	ID                  string  `json:"id"`
	Symbol              string  `json:"symbol" validate:"required"`
	Side                string  `json:"side" validate:"required,oneof=long short"`
	Confidence          float64 `json:"confidence" validate:"gte=0,lte=1"`
	RecommendedLeverage float64 `json:"recommended_leverage" default:"1" validate:"gte=1,lte=125"`
	EntryPrice          float64 `json:"entry_price" validate:"gte=0"`
	Source              string  `json:"source"`
}

type FillRequest struct {
	SignalID string  `json:"signal_id" validate:"required"`
	Price    float64 `json:"price" validate:"gt=0"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
}

type CancelRequest struct {
	SignalID string `json:"signal_id" validate:"required"`
}

type ClosePositionRequest struct {
	Symbol string  `json:"symbol" validate:"required"`
	Price  float64 `json:"price" validate:"gt=0"`
}

type DecisionsRequest struct {
	N int `query:"n" json:"n" default:"50" validate:"gte=1,lte=500"`
}
