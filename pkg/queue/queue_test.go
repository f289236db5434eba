package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFusion/pkg/logger"
)

type scheduled struct {
	data []byte
	at   time.Time
}

// memBackend emulates the Redis lists and sorted sets in process.
type memBackend struct {
	mu    sync.Mutex
	lists map[string][][]byte
	sets  map[string][]scheduled
}

func newMemBackend() *memBackend {
	return &memBackend{lists: map[string][][]byte{}, sets: map[string][]scheduled{}}
}

func (b *memBackend) Push(_ context.Context, list string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[list] = append([][]byte{data}, b.lists[list]...)
	return nil
}

func (b *memBackend) Pop(ctx context.Context, lists []string, timeout time.Duration) (string, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		for _, l := range lists {
			if n := len(b.lists[l]); n > 0 {
				data := b.lists[l][n-1]
				b.lists[l] = b.lists[l][:n-1]
				b.mu.Unlock()
				return l, data, nil
			}
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return "", nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (b *memBackend) Schedule(_ context.Context, set string, data []byte, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets[set] = append(b.sets[set], scheduled{data: data, at: at})
	return nil
}

func (b *memBackend) PromoteDue(_ context.Context, set, list string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keep []scheduled
	moved := 0
	sort.Slice(b.sets[set], func(i, j int) bool { return b.sets[set][i].at.Before(b.sets[set][j].at) })
	for _, s := range b.sets[set] {
		if s.at.After(now) {
			keep = append(keep, s)
			continue
		}
		b.lists[list] = append([][]byte{s.data}, b.lists[list]...)
		moved++
	}
	b.sets[set] = keep
	return moved, nil
}

func (b *memBackend) len(list string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists[list])
}

type funcJob struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (j funcJob) Topic() string                                  { return j.topic }
func (j funcJob) Handle(ctx context.Context, payload []byte) error { return j.fn(ctx, payload) }

func runQueue(t *testing.T, q *Queue) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	return cancel, done
}

func fastOpts() []Option {
	return []Option{
		WithPrefix("test"),
		WithWorkers(2),
		WithRetry(2, time.Millisecond),
		WithPolling(10*time.Millisecond, 10*time.Millisecond),
	}
}

func TestQueueDeliversPayload(t *testing.T) {
	b := newMemBackend()
	q := New(b, logger.Nop(), fastOpts()...)

	got := make(chan map[string]string, 1)
	require.NoError(t, q.Register(funcJob{topic: "signal.proposed", fn: func(_ context.Context, p []byte) error {
		var m map[string]string
		if err := json.Unmarshal(p, &m); err != nil {
			return err
		}
		got <- m
		return nil
	}}))
	require.Error(t, q.Register(funcJob{topic: "signal.proposed"}))

	require.NoError(t, q.Enqueue(context.Background(), "signal.proposed", map[string]string{"symbol": "BTC/USDT"}))
	assert.Equal(t, 1, b.len("test:signal.proposed:messages"))

	cancel, done := runQueue(t, q)
	defer cancel()

	select {
	case m := <-got:
		assert.Equal(t, "BTC/USDT", m["symbol"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	b := newMemBackend()
	q := New(b, logger.Nop(), fastOpts()...)

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, q.Register(funcJob{topic: "flaky", fn: func(context.Context, []byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("boom")
	}}))
	require.NoError(t, q.Enqueue(context.Background(), "flaky", 1))

	cancel, done := runQueue(t, q)
	defer cancel()

	require.Eventually(t, func() bool { return b.len("test:flaky:dlq") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	var msg Message
	require.NoError(t, json.Unmarshal(b.lists["test:flaky:dlq"][0], &msg))
	assert.Equal(t, 3, msg.Attempts)
	assert.Equal(t, "flaky", msg.Topic)
	assert.NotEmpty(t, msg.ID)
}

func TestQueueRegisterAfterRun(t *testing.T) {
	q := New(newMemBackend(), logger.Nop(), fastOpts()...)
	cancel, done := runQueue(t, q)
	require.Eventually(t, func() bool {
		q.mu.RLock()
		defer q.mu.RUnlock()
		return q.running
	}, time.Second, time.Millisecond)

	assert.Error(t, q.Register(funcJob{topic: "late"}))
	cancel()
	require.NoError(t, <-done)
}
