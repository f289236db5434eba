package repository

import (
	"context"

	"FinFusion/internal/domain/models"
)

// FeedAdapter speaks one exchange's websocket protocol and emits canonical
// events. The event channel closes when the connection ends; Err then
// reports why. Adapters keep no cross-symbol state.
type FeedAdapter interface {
	Name() models.Exchange
	Connect(ctx context.Context, symbols []string) (<-chan models.Event, error)
	Err() error
	Close() error
}

// BarProvider backfills historical bars. It is optional: without one the
// bar cache cold-starts.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error)
}

// Notifier receives gate-approved signals only.
type Notifier interface {
	Emit(ctx context.Context, signal models.Signal) error
}

// EventPublisher fans canonical market events out to external consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []models.Event) error
	Close() error
}

// SnapshotStore exposes derived state (best quotes, forecasts, health) to
// out-of-process readers.
type SnapshotStore interface {
	SaveQuote(ctx context.Context, quote models.BestQuote) error
	SaveForecast(ctx context.Context, result models.ForecastResult) error
	SaveHealth(ctx context.Context, health models.FeedHealth) error
}

type Metrics interface {
	RecordEvent(exchange models.Exchange, kind models.EventKind)
	RecordDecodeError(exchange models.Exchange)
	RecordReconnect(exchange models.Exchange)
	SetConnected(exchange models.Exchange, connected bool)
	RecordDropped(stage string)
	RecordLastPrice(symbol string, price float64)
	RecordSpread(symbol string, spreadPct float64)
	RecordForecast(model string, status models.ForecastStatus)
	RecordGateDecision(approved bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
