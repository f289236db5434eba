package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrEmpty is returned by Backend.Pop when nothing arrived before the
// timeout.
var ErrEmpty = errors.New("queue empty")

// Job consumes one topic. A returned error schedules a retry; after
// RetryLimit attempts the message moves to the topic's dead letter list.
type Job interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

// Backend stores per-topic lists and retry schedules.
type Backend interface {
	Push(ctx context.Context, list string, data []byte) error
	// Pop blocks up to timeout for the oldest message of any list.
	Pop(ctx context.Context, lists []string, timeout time.Duration) (list string, data []byte, err error)
	Schedule(ctx context.Context, set string, data []byte, at time.Time) error
	// PromoteDue moves members of set due at now back onto list.
	PromoteDue(ctx context.Context, set, list string, now time.Time) (int, error)
}

// Message is the envelope stored in the backend.
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

type Config struct {
	Prefix        string
	Workers       int
	RetryLimit    int
	RetryDelay    time.Duration
	PollTimeout   time.Duration
	RetryInterval time.Duration
}

type Option func(*Config)

// WithPrefix namespaces keys as prefix:topic:{messages,retry,dlq}.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

func WithRetry(limit int, delay time.Duration) Option {
	return func(c *Config) {
		if limit >= 0 {
			c.RetryLimit = limit
		}
		if delay > 0 {
			c.RetryDelay = delay
		}
	}
}

// WithPolling sets the blocking pop timeout and the retry scan interval.
func WithPolling(pop, retryScan time.Duration) Option {
	return func(c *Config) {
		if pop > 0 {
			c.PollTimeout = pop
		}
		if retryScan > 0 {
			c.RetryInterval = retryScan
		}
	}
}

func defaultConfig() Config {
	return Config{
		Prefix:        "finfusion:queue",
		Workers:       1,
		RetryLimit:    3,
		RetryDelay:    10 * time.Second,
		PollTimeout:   time.Second,
		RetryInterval: 5 * time.Second,
	}
}

func (c Config) messagesKey(topic string) string { return c.Prefix + ":" + topic + ":messages" }
func (c Config) retryKey(topic string) string    { return c.Prefix + ":" + topic + ":retry" }
func (c Config) deadLetterKey(topic string) string {
	return c.Prefix + ":" + topic + ":dlq"
}
