package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinFusion/pkg/logger"
)

// Metrics records request count, latency and in-flight requests labelled by
// the route template. 5xx responses are logged as errors and slow requests
// as warnings.
func Metrics(reg prometheus.Registerer, l *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	f := promauto.With(reg)
	requests := f.NewCounterVec(prometheus.CounterOpts{
		Name: "finfusion_http_requests_total",
		Help: "HTTP requests by route, method and status class",
	}, []string{"route", "method", "class"})
	duration := f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finfusion_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "method"})
	inFlight := f.NewGauge(prometheus.GaugeOpts{
		Name: "finfusion_http_in_flight_requests",
		Help: "HTTP requests being served",
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			inFlight.Inc()
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			inFlight.Dec()

			route, method := c.Path(), c.Request().Method
			status := c.Response().Status
			elapsed := time.Since(start)
			requests.WithLabelValues(route, method, statusClass(status)).Inc()
			duration.WithLabelValues(route, method).Observe(elapsed.Seconds())

			switch {
			case status >= 500:
				l.Error("http request failed",
					logger.String("route", route),
					logger.String("method", method),
					logger.String("status", strconv.Itoa(status)),
					logger.Duration("duration_ms", elapsed),
				)
			case slow > 0 && elapsed >= slow:
				l.Warn("http request slow",
					logger.String("route", route),
					logger.String("method", method),
					logger.Duration("duration_ms", elapsed),
				)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
