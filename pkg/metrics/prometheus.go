package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	connected    *prometheus.GaugeVec
	dropped      *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	spread       *prometheus.GaugeVec
	forecasts    *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_feed_events_total",
			Help: "Canonical market events received per exchange and kind",
		}, []string{"exchange", "kind"}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_feed_decode_errors_total",
			Help: "Frames skipped because they could not be decoded",
		}, []string{"exchange"}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_feed_reconnects_total",
			Help: "Adapter restarts performed by the supervisor",
		}, []string{"exchange"}),
		connected: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finfusion_feed_connected",
			Help: "1 while the exchange adapter is connected",
		}, []string{"exchange"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_dropped_total",
			Help: "Items dropped by backpressure or ordering rules",
		}, []string{"stage"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finfusion_last_price",
			Help: "Last trade price for a symbol",
		}, []string{"symbol"}),
		spread: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finfusion_spread_percent",
			Help: "Cross-exchange best bid/ask spread in percent",
		}, []string{"symbol"}),
		forecasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_forecast_refits_total",
			Help: "Forecast refits by model and outcome",
		}, []string{"model", "status"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_gate_decisions_total",
			Help: "Risk gate decisions",
		}, []string{"result"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finfusion_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordEvent(exchange models.Exchange, kind models.EventKind) {
	r.events.WithLabelValues(string(exchange), string(kind)).Inc()
}

func (r *Recorder) RecordDecodeError(exchange models.Exchange) {
	r.decodeErrors.WithLabelValues(string(exchange)).Inc()
}

func (r *Recorder) RecordReconnect(exchange models.Exchange) {
	r.reconnects.WithLabelValues(string(exchange)).Inc()
}

func (r *Recorder) SetConnected(exchange models.Exchange, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	r.connected.WithLabelValues(string(exchange)).Set(v)
}

func (r *Recorder) RecordDropped(stage string) {
	r.dropped.WithLabelValues(stage).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordSpread(symbol string, spreadPct float64) {
	r.spread.WithLabelValues(symbol).Set(spreadPct)
}

func (r *Recorder) RecordForecast(model string, status models.ForecastStatus) {
	r.forecasts.WithLabelValues(model, string(status)).Inc()
}

func (r *Recorder) RecordGateDecision(approved bool) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	r.decisions.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
