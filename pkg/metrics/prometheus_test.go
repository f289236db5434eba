package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"FinFusion/internal/domain/models"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordEvent(models.Binance, models.EventTrade)
	r.RecordEvent(models.Binance, models.EventTrade)
	r.RecordReconnect(models.OKX)
	r.SetConnected(models.Bybit, true)
	r.RecordGateDecision(false)
	r.RecordDropped("shard")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues("binance", "trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects.WithLabelValues("okx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.connected.WithLabelValues("bybit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dropped.WithLabelValues("shard")))

	r.SetConnected(models.Bybit, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.connected.WithLabelValues("bybit")))
}
