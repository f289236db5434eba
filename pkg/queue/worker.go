package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"FinFusion/pkg/logger"
)

// Queue moves JSON messages through per-topic lists with a worker pool,
// delayed retries and a dead letter list.
type Queue struct {
	backend Backend
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
}

func New(backend Backend, l *logger.Logger, opts ...Option) *Queue {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue{
		backend: backend,
		cfg:     cfg,
		logger:  l.With(logger.String("component", "queue")),
		now:     time.Now,
		jobs:    make(map[string]Job),
	}
}

// NewRedisQueue is New over a RedisBackend.
func NewRedisQueue(client *redis.Client, l *logger.Logger, opts ...Option) *Queue {
	return New(NewRedisBackend(client), l, opts...)
}

// Register adds a job. It must be called before Run.
func (q *Queue) Register(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	if _, ok := q.jobs[job.Topic()]; ok {
		return fmt.Errorf("job already registered for topic %s", job.Topic())
	}
	q.jobs[job.Topic()] = job
	q.logger.Info("job registered", logger.String("topic", job.Topic()))
	return nil
}

// Enqueue pushes payload onto topic's list. Producers need no job for the
// topic.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Topic: topic, Payload: raw, Timestamp: q.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.backend.Push(ctx, q.cfg.messagesKey(topic), data); err != nil {
		return fmt.Errorf("push %s: %w", topic, err)
	}
	return nil
}

// Run starts the workers and the retry promoter. Without jobs it only
// waits for ctx.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.running = true
	topics := make([]string, 0, len(q.jobs))
	lists := make([]string, 0, len(q.jobs))
	for t := range q.jobs {
		topics = append(topics, t)
		lists = append(lists, q.cfg.messagesKey(t))
	}
	q.mu.Unlock()

	if len(lists) == 0 {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			q.work(gctx, lists)
			return nil
		})
	}
	g.Go(func() error {
		q.promote(gctx, topics)
		return nil
	})
	q.logger.Info("queue started", logger.Int("workers", q.cfg.Workers), logger.Strings("topics", topics))
	err := g.Wait()
	q.logger.Info("queue stopped")
	return err
}

func (q *Queue) work(ctx context.Context, lists []string) {
	for ctx.Err() == nil {
		_, data, err := q.backend.Pop(ctx, lists, q.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("queue pop failed", logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		q.process(ctx, data)
	}
}

func (q *Queue) process(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		q.logger.Error("undecodable queue message", logger.Error(err))
		return
	}
	q.mu.RLock()
	job, ok := q.jobs[msg.Topic]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job for topic", logger.String("topic", msg.Topic), logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		q.logger.Warn("message cancelled", logger.String("id", msg.ID), logger.Duration("elapsed_ms", time.Since(start)))
		q.reschedule(msg, q.now())
		return
	}
	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("topic", msg.Topic),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	msg.Attempts++
	if msg.Attempts > q.cfg.RetryLimit {
		q.deadLetter(msg)
		return
	}
	q.reschedule(msg, q.now().Add(q.cfg.RetryDelay))
}

// reschedule and deadLetter outlive the run context.
func (q *Queue) reschedule(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.backend.Schedule(ctx, q.cfg.retryKey(msg.Topic), data, at); err != nil {
		q.logger.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *Queue) deadLetter(msg Message) {
	q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("topic", msg.Topic))
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.backend.Push(ctx, q.cfg.deadLetterKey(msg.Topic), data); err != nil {
		q.logger.Error("dead letter push failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *Queue) promote(ctx context.Context, topics []string) {
	ticker := time.NewTicker(q.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range topics {
				n, err := q.backend.PromoteDue(ctx, q.cfg.retryKey(t), q.cfg.messagesKey(t), q.now())
				if err != nil && ctx.Err() == nil {
					q.logger.Error("promote retries failed", logger.String("topic", t), logger.Error(err))
				}
				if n > 0 {
					q.logger.Debug("retries requeued", logger.String("topic", t), logger.Int("count", n))
				}
			}
		}
	}
}
