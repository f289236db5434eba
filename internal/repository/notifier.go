package repository

import (
	"context"
	"errors"
	"fmt"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/pkg/logger"
)

// ErrNotApproved is returned when a signal that the gate did not approve
// reaches a notifier.
var ErrNotApproved = errors.New("signal not approved")

type approvedOnly struct {
	next drepo.Notifier
}

// ApprovedOnly guards next so that only approved signals are emitted.
func ApprovedOnly(next drepo.Notifier) drepo.Notifier {
	return approvedOnly{next: next}
}

func (a approvedOnly) Emit(ctx context.Context, s models.Signal) error {
	if s.Status != models.SignalApproved || s.Recommendation == nil {
		return fmt.Errorf("%w: %s is %s", ErrNotApproved, s.ID, s.Status)
	}
	return a.next.Emit(ctx, s)
}

// MultiNotifier emits to every notifier and joins their errors. When at
// least one downstream sink accepted the signal the joined error is wrapped
// in a *repository.PartialDeliveryError. Log sinks never count as delivery.
type MultiNotifier []drepo.Notifier

// localSink marks notifiers that only record the signal in-process.
type localSink interface {
	local()
}

func (m MultiNotifier) Emit(ctx context.Context, s models.Signal) error {
	var errs []error
	delivered := 0
	for _, n := range m {
		if err := n.Emit(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := n.(localSink); !ok {
			delivered++
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if delivered > 0 {
		return &drepo.PartialDeliveryError{Delivered: delivered, Failed: len(errs), Err: err}
	}
	return err
}

// LogNotifier writes approved signals to the log.
type LogNotifier struct {
	logger *logger.Logger
}

var _ drepo.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(l *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With(logger.String("component", "notifier"))}
}

func (*LogNotifier) local() {}

func (n *LogNotifier) Emit(_ context.Context, s models.Signal) error {
	rec := s.Recommendation
	n.logger.Info("signal emitted",
		logger.String("signal_id", s.ID),
		logger.String("symbol", s.Symbol),
		logger.String("side", string(s.Side)),
		logger.Float("entry", rec.EntryPrice),
		logger.Float("quantity", rec.Quantity),
		logger.Float("stop_loss", rec.StopLoss),
		logger.Any("take_profits", rec.TakeProfits),
		logger.Float("leverage", rec.Leverage),
		logger.Float("risk_amount", rec.RiskAmount),
	)
	return nil
}
