package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	pkgkafka "FinFusion/pkg/kafka"
	"FinFusion/pkg/logger"
)

var _ pkgkafka.MessageHandler = (*SignalProposalsHandler)(nil)

// SignalFromProposal builds a proposed signal from an API or Kafka request.
func SignalFromProposal(req models.ProposeSignalRequest) models.Signal {
	return models.Signal{
		ID:                  req.ID,
		Symbol:              strings.ToUpper(req.Symbol),
		Side:                models.PositionSide(req.Side),
		Confidence:          req.Confidence,
		RecommendedLeverage: req.RecommendedLeverage,
		EntryPrice:          req.EntryPrice,
		Source:              req.Source,
		Status:              models.SignalProposed,
	}
}

// SignalProposalsHandler feeds proposals from external scorers on Kafka into
// the signal service. Gate rejections are not errors, so they are committed.
type SignalProposalsHandler struct {
	topic    string
	svc      *SignalService
	validate *validator.Validate
	metrics  drepo.Metrics
	logger   *logger.Logger
}

func NewSignalProposalsHandler(topic string, svc *SignalService, metrics drepo.Metrics, l *logger.Logger) *SignalProposalsHandler {
	return &SignalProposalsHandler{
		topic:    topic,
		svc:      svc,
		validate: validator.New(),
		metrics:  metrics,
		logger:   l,
	}
}

func (h *SignalProposalsHandler) Topic() string { return h.topic }

func (h *SignalProposalsHandler) Handle(ctx context.Context, b []byte) error {
	var req models.ProposeSignalRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode proposal: %w", err)
	}
	if err := defaults.Set(&req); err != nil {
		return fmt.Errorf("proposal defaults: %w", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("invalid proposal: %w", err)
	}

	d, err := h.svc.Submit(ctx, SignalFromProposal(req))
	if err != nil {
		return err
	}
	h.logger.Debug("proposal decided",
		logger.String("signal_id", d.Signal.ID),
		logger.String("trace_id", pkgkafka.TraceID(ctx)),
		logger.Bool("approved", d.Approved),
		logger.String("source", req.Source),
	)
	return nil
}

// NewProposalsHook logs slow proposal handling and every message that
// exhausts its retries.
func NewProposalsHook(slow time.Duration, m drepo.Metrics, l *logger.Logger) pkgkafka.ConsumerHook {
	l = l.With(logger.String("component", "proposals_hook"))
	return pkgkafka.NewHookChain(pkgkafka.HookFuncs{
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			start, ok := pkgkafka.StartTime(ctx)
			if !ok || slow <= 0 {
				return
			}
			if elapsed := time.Since(start); elapsed >= slow {
				l.Warn("slow proposal",
					logger.String("topic", topic),
					logger.Int64("offset", km.Offset),
					logger.String("trace_id", pkgkafka.TraceID(ctx)),
					logger.Duration("elapsed_ms", elapsed),
					logger.Bool("failed", err != nil),
				)
			}
		},
		Err: func(_ context.Context, topic string, km kafka.Message, _ []byte, err error) {
			m.RecordError("consumer_exhausted")
			l.Warn("proposal gave up",
				logger.String("topic", topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.Error(err),
			)
		},
	})
}
