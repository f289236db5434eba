package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"FinFusion/internal/domain/models"
)

// flexFloat accepts both JSON numbers and numeric strings; venues quote
// prices as strings to avoid float rounding on the wire.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt is flexFloat for millisecond timestamps.
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", b, err)
	}
	*i = flexInt(v)
	return nil
}

func (i flexInt) time(fallback time.Time) time.Time {
	if i <= 0 {
		return fallback
	}
	return time.UnixMilli(int64(i)).UTC()
}

// rawLevel is a [price, qty, ...] array; extra elements are discarded.
type rawLevel [2]flexFloat

// topLevels converts raw levels, drops empty ones and keeps the best depth
// levels in book order.
func topLevels(raw []rawLevel, depth int, descending bool) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, r := range raw {
		if r[0] <= 0 || r[1] <= 0 {
			continue
		}
		levels = append(levels, models.OrderBookLevel{Price: float64(r[0]), Quantity: float64(r[1])})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty data")
	}
	return json.Unmarshal(data, v)
}
