package models

import "time"

type ExchangeHealth struct {
	Connected   bool      `json:"connected"`
	Restarts    int       `json:"restarts"`
	Messages    uint64    `json:"messages"`
	DecodeErrs  uint64    `json:"decode_errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

type FeedHealth struct {
	Connected      int                         `json:"connected"`
	Total          int                         `json:"total"`
	MessagesPerSec float64                     `json:"messages_per_sec"`
	LastEventAt    time.Time                   `json:"last_event_at,omitempty"`
	SinceLastEvent time.Duration               `json:"since_last_event"`
	Exchanges      map[Exchange]ExchangeHealth `json:"exchanges"`
}
