package repository

import (
	"context"
	"fmt"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	pkgkafka "FinFusion/pkg/kafka"
	"FinFusion/pkg/logger"
)

// messageWriter is the part of the Kafka producer the adapters use.
type messageWriter interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

var (
	_ messageWriter        = (*pkgkafka.Producer)(nil)
	_ drepo.Notifier       = (*KafkaNotifier)(nil)
	_ drepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ logger.Publisher     = (*KafkaLogPublisher)(nil)
)

// KafkaNotifier publishes approved signals as JSON keyed by symbol, so
// signals of one symbol stay ordered.
type KafkaNotifier struct {
	w     messageWriter
	topic string
}

func NewKafkaNotifier(w messageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{w: w, topic: topic}
}

func (n *KafkaNotifier) Emit(ctx context.Context, s models.Signal) error {
	msg := pkgkafka.Message{
		Key:     []byte(s.Symbol),
		Value:   s,
		Headers: map[string]string{"trace_id": s.ID, "source": s.Source},
	}
	if err := n.w.PublishBatch(ctx, n.topic, []pkgkafka.Message{msg}); err != nil {
		return fmt.Errorf("emit signal %s: %w", s.ID, err)
	}
	return nil
}

// KafkaEventPublisher fans canonical market events out to a topic.
type KafkaEventPublisher struct {
	w      messageWriter
	topic  string
	closer func() error
}

func NewKafkaEventPublisher(w messageWriter, topic string, closer func() error) *KafkaEventPublisher {
	return &KafkaEventPublisher{w: w, topic: topic, closer: closer}
}

func (p *KafkaEventPublisher) PublishEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, ev := range events {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(ev.Symbol),
			Value:   ev,
			Headers: map[string]string{"kind": string(ev.Kind), "exchange": string(ev.Exchange)},
		}
	}
	return p.w.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaEventPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// KafkaLogPublisher is the sink of the aggregated error log collector.
type KafkaLogPublisher struct {
	w messageWriter
}

func NewKafkaLogPublisher(w messageWriter) *KafkaLogPublisher {
	return &KafkaLogPublisher{w: w}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.w.PublishBatch(ctx, topic, []pkgkafka.Message{{Value: payload}})
}
