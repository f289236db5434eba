package repository

import (
	"context"
	"fmt"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
)

type enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload interface{}) error
}

// QueueNotifier pushes approved signals onto a Redis work list for
// downstream executors.
type QueueNotifier struct {
	q     enqueuer
	topic string
}

var _ drepo.Notifier = (*QueueNotifier)(nil)

func NewQueueNotifier(q enqueuer, topic string) *QueueNotifier {
	return &QueueNotifier{q: q, topic: topic}
}

func (n *QueueNotifier) Emit(ctx context.Context, s models.Signal) error {
	if err := n.q.Enqueue(ctx, n.topic, s); err != nil {
		return fmt.Errorf("enqueue signal %s: %w", s.ID, err)
	}
	return nil
}
