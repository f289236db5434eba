package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"FinFusion/pkg/backoff"
	"FinFusion/pkg/logger"
)

// MessageHandler handles messages from one topic. A returned error is
// retried, then sent to the DLQ when one is configured.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads registered topics in one group and fans messages out to a
// worker pool. Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	logger   *logger.Logger
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      *kafka.Writer

	mu        sync.Mutex
	partLocks map[partitionKey]*sync.Mutex
}

type partitionKey struct {
	topic     string
	partition int
}

type delivery struct {
	reader *kafka.Reader
	msg    kafka.Message
}

func NewConsumer(l *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}

	c := &Consumer{
		cfg:       cfg,
		logger:    l.With(logger.String("component", "kafka_consumer")),
		handlers:  make(map[string]MessageHandler),
		hook:      NoopHook{},
		partLocks: make(map[partitionKey]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	initMetrics()
	return c, nil
}

// RegisterHandler must be called before Run.
func (c *Consumer) RegisterHandler(h MessageHandler) error {
	if _, ok := c.handlers[h.Topic()]; ok {
		return fmt.Errorf("kafka consumer: handler already registered for %s", h.Topic())
	}
	c.handlers[h.Topic()] = h
	return nil
}

func (c *Consumer) SetHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Run consumes until ctx ends, then drains in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.handlers) == 0 {
		<-ctx.Done()
		return nil
	}

	start := kafka.LastOffset
	if c.cfg.StartFirst {
		start = kafka.FirstOffset
	}

	queue := make(chan delivery, c.cfg.BufferSize)
	readers := make([]*kafka.Reader, 0, len(c.handlers))
	for topic := range c.handlers {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		}))
		c.logger.Info("kafka topic subscribed", logger.String("topic", topic), logger.String("group", c.cfg.GroupID))
	}

	var readWG sync.WaitGroup
	for _, r := range readers {
		r := r
		readWG.Add(1)
		go func() {
			defer readWG.Done()
			c.read(ctx, r, queue)
		}()
	}
	go func() {
		readWG.Wait()
		close(queue)
	}()

	var g errgroup.Group
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for d := range queue {
				consumerQueue.WithLabelValues(d.msg.Topic).Set(float64(len(queue)))
				c.process(d)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			c.logger.Warn("close kafka reader failed", logger.Error(err))
		}
	}
	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			c.logger.Warn("close dlq writer failed", logger.Error(err))
		}
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) read(ctx context.Context, r *kafka.Reader, queue chan<- delivery) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Warn("kafka fetch failed", logger.String("topic", r.Config().Topic), logger.Error(err))
			if backoff.Sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		select {
		case queue <- delivery{reader: r, msg: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := partitionKey{topic, partition}
	l, ok := c.partLocks[k]
	if !ok {
		l = &sync.Mutex{}
		c.partLocks[k] = l
	}
	return l
}

// process runs the handler with retries. Processing is detached from the
// run context so a shutdown lets in-flight messages finish.
func (c *Consumer) process(d delivery) {
	h := c.handlers[d.msg.Topic]
	start := time.Now()
	pl := c.partitionLock(d.msg.Topic, d.msg.Partition)
	pl.Lock()
	defer pl.Unlock()

	sched := backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: 0.5}
	err := c.handleWithRetry(h, d.msg, sched)

	result := "ok"
	if err != nil {
		result = "error"
		c.hook.OnError(context.Background(), d.msg.Topic, d.msg, d.msg.Value, err)
		c.logger.Error("kafka message failed",
			logger.String("topic", d.msg.Topic),
			logger.Int("partition", d.msg.Partition),
			logger.Int64("offset", d.msg.Offset),
			logger.Error(err),
		)
		if c.dlq != nil {
			if derr := c.toDLQ(d.msg, err); derr != nil {
				c.logger.Error("dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(derr))
			} else {
				result = "dlq"
			}
		}
	}
	consumerMsgs.WithLabelValues(d.msg.Topic, result).Inc()
	consumerLatency.WithLabelValues(d.msg.Topic).Observe(time.Since(start).Seconds())

	// Without a DLQ a failed message is left uncommitted and is redelivered
	// after a rebalance or restart.
	if err == nil || result == "dlq" {
		c.commit(d)
	}
}

func (c *Consumer) handleWithRetry(h MessageHandler, km kafka.Message, sched backoff.Backoff) error {
	var err error
	for attempt := 1; ; attempt++ {
		var (
			ctx  = WithStartTime(context.Background(), time.Now())
			data = km.Value
		)
		ctx = WithTraceID(ctx, ExtractTraceID(km))
		ctx, km, data, err = c.hook.BeforeHandle(ctx, km.Topic, km, data)
		if err != nil {
			return err
		}
		err = h.Handle(ctx, data)
		c.hook.AfterHandle(ctx, km.Topic, km, data, err)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		time.Sleep(sched.Next(attempt))
	}
}

func (c *Consumer) toDLQ(km kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   km.Key,
		Value: km.Value,
		Time:  time.Now().UTC(),
		Headers: append(km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
}

func (c *Consumer) commit(d delivery) {
	sched := backoff.Backoff{Min: 50 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = d.reader.CommitMessages(ctx, d.msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(sched.Next(attempt))
	}
	c.logger.Warn("kafka commit failed", logger.String("topic", d.msg.Topic), logger.Int64("offset", d.msg.Offset), logger.Error(err))
}
