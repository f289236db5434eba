package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/risk"
	"FinFusion/pkg/logger"
)

// maxDecisions bounds the in-memory decision log.
const maxDecisions = 500

// SignalService runs proposals through the risk gate and hands approved
// signals to the notifier.
type SignalService struct {
	gate      *risk.Gate
	portfolio *risk.Portfolio
	bars      *bars.Cache
	notifier  drepo.Notifier
	tf        models.Timeframe
	history   int
	metrics   drepo.Metrics
	logger    *logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	decisions []models.Decision
}

func NewSignalService(gate *risk.Gate, portfolio *risk.Portfolio, cache *bars.Cache, notifier drepo.Notifier, tf models.Timeframe, history int, metrics drepo.Metrics, l *logger.Logger) *SignalService {
	return &SignalService{
		gate:      gate,
		portfolio: portfolio,
		bars:      cache,
		notifier:  notifier,
		tf:        tf,
		history:   history,
		metrics:   metrics,
		logger:    l,
		now:       time.Now,
	}
}

// Submit decides sig. An approved signal that no notifier accepted has its
// reservation released, and the error is returned with the decision. A
// partial delivery keeps the reservation.
func (s *SignalService) Submit(ctx context.Context, sig models.Signal) (models.Decision, error) {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now().UTC()
	}
	sig.Status = models.SignalProposed

	start := time.Now()
	d := s.gate.Submit(sig, s.bars.Bars(sig.Symbol, s.tf, s.history))
	s.metrics.RecordLatency("gate_submit", time.Since(start).Seconds())
	s.metrics.RecordGateDecision(d.Approved)
	s.record(d)

	fields := []logger.Field{
		logger.String("signal_id", d.Signal.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("side", string(sig.Side)),
		logger.Bool("approved", d.Approved),
	}
	if !d.Approved {
		s.logger.Info("signal rejected", append(fields, logger.String("reason", d.Reason))...)
		return d, nil
	}
	s.logger.Info("signal approved", append(fields, logger.Float("quantity", d.Signal.Recommendation.Quantity))...)

	if err := s.notifier.Emit(ctx, d.Signal); err != nil {
		var partial *drepo.PartialDeliveryError
		if errors.As(err, &partial) {
			// delivered downstream: the reservation must stay for the fill
			s.metrics.RecordError("notify_partial")
			s.logger.Warn("signal partially delivered", append(fields, logger.Int("delivered", partial.Delivered), logger.Error(err))...)
			return d, nil
		}
		s.metrics.RecordError("notify")
		if cerr := s.portfolio.Cancel(d.Signal.ID); cerr != nil {
			s.logger.Error("release reservation failed", logger.String("signal_id", d.Signal.ID), logger.Error(cerr))
		}
		return d, fmt.Errorf("notify signal %s: %w", d.Signal.ID, err)
	}
	return d, nil
}

func (s *SignalService) record(d models.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	if len(s.decisions) > maxDecisions {
		s.decisions = s.decisions[len(s.decisions)-maxDecisions:]
	}
}

// Recent returns up to n latest decisions, newest first.
func (s *SignalService) Recent(n int) []models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.decisions) {
		n = len(s.decisions)
	}
	out := make([]models.Decision, 0, n)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.decisions[i])
	}
	return out
}

func (s *SignalService) Portfolio() *risk.Portfolio { return s.portfolio }
