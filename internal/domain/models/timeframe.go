package models

import (
	"fmt"
	"time"
)

// Timeframe represents bar resolution buckets.
type Timeframe string

const (
	TF1s  Timeframe = "1s"
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1s:  time.Second,
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe validates a raw timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

func (tf Timeframe) Duration() time.Duration { return timeframeDurations[tf] }

// Truncate returns the open time of the interval containing ts, in UTC.
func (tf Timeframe) Truncate(ts time.Time) time.Time {
	return ts.UTC().Truncate(tf.Duration())
}
