package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics counts outcomes of the query and signal endpoints that the
// generic HTTP middleware cannot see.
type APIMetrics struct {
	errors      *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
	decisions   *prometheus.CounterVec
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	f := promauto.With(reg)
	return &APIMetrics{
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finfusion",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by endpoint and error code",
		}, []string{"endpoint", "code"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finfusion",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client limiter",
		}, []string{"endpoint"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finfusion",
			Subsystem: "api",
			Name:      "signal_decisions_total",
			Help:      "Gate decisions for signals submitted over HTTP",
		}, []string{"result"}),
	}
}

func (m *APIMetrics) Error(endpoint, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(endpoint, code).Inc()
}

func (m *APIMetrics) RateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

func (m *APIMetrics) Decision(approved bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if approved {
		result = "approved"
	}
	m.decisions.WithLabelValues(result).Inc()
}

// EmitFailed counts approvals that were rolled back because no notifier
// accepted the signal.
func (m *APIMetrics) EmitFailed() {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues("emit_failed").Inc()
}
