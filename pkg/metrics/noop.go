package metrics

import (
	"FinFusion/internal/domain/models"
	"FinFusion/internal/domain/repository"
)

var _ repository.Metrics = Noop{}

// Noop discards every observation. Used by tests and tools.
type Noop struct{}

func (Noop) RecordEvent(models.Exchange, models.EventKind) {}
func (Noop) RecordDecodeError(models.Exchange)             {}
func (Noop) RecordReconnect(models.Exchange)               {}
func (Noop) SetConnected(models.Exchange, bool)            {}
func (Noop) RecordDropped(string)                          {}
func (Noop) RecordLastPrice(string, float64)               {}
func (Noop) RecordSpread(string, float64)                  {}
func (Noop) RecordForecast(string, models.ForecastStatus)  {}
func (Noop) RecordGateDecision(bool)                       {}
func (Noop) RecordError(string)                            {}
func (Noop) RecordLatency(string, float64)                 {}
