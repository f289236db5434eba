package models

import "time"

// Bar is an OHLCV record. It is mutated while open and sealed once its
// interval has elapsed.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Sealed    bool      `json:"sealed"`
}

// Valid reports whether the OHLC envelope holds.
func (b Bar) Valid() bool {
	return b.High >= b.Open && b.High >= b.Close && b.Low <= b.Open && b.Low <= b.Close && b.Low <= b.High
}

// Closes extracts close prices in order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
