package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	registerer  prometheus.Registerer = prometheus.DefaultRegisterer

	producerMsgs    *prometheus.CounterVec
	producerBytes   *prometheus.CounterVec
	producerLatency *prometheus.HistogramVec
	consumerMsgs    *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec
	consumerQueue   *prometheus.GaugeVec
)

// SetMetricsRegisterer must be called before the first producer or consumer
// is created.
func SetMetricsRegisterer(reg prometheus.Registerer) { registerer = reg }

func initMetrics() {
	metricsOnce.Do(func() {
		producerMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_kafka_producer_messages_total",
			Help: "Messages written to Kafka by result",
		}, []string{"topic", "result"})
		producerBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_kafka_producer_bytes_total",
			Help: "Payload bytes written to Kafka",
		}, []string{"topic"})
		producerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finfusion_kafka_producer_write_seconds",
			Help:    "Kafka write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finfusion_kafka_consumer_messages_total",
			Help: "Messages handled by result (ok, error, dlq)",
		}, []string{"topic", "result"})
		consumerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finfusion_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumerQueue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finfusion_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker",
		}, []string{"topic"})
		if registerer != nil {
			registerer.MustRegister(producerMsgs, producerBytes, producerLatency, consumerMsgs, consumerLatency, consumerQueue)
		}
	})
}

func observeWrite(topic string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgs.WithLabelValues(topic, result).Add(float64(count))
	producerBytes.WithLabelValues(topic).Add(float64(bytes))
	producerLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
