package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps lists with LPUSH/BRPOP and retries in sorted sets
// scored by due time.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Push(ctx context.Context, list string, data []byte) error {
	return b.client.LPush(ctx, list, data).Err()
}

func (b *RedisBackend) Pop(ctx context.Context, lists []string, timeout time.Duration) (string, []byte, error) {
	res, err := b.client.BRPop(ctx, timeout, lists...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, ErrEmpty
		}
		return "", nil, err
	}
	if len(res) < 2 {
		return "", nil, ErrEmpty
	}
	return res[0], []byte(res[1]), nil
}

func (b *RedisBackend) Schedule(ctx context.Context, set string, data []byte, at time.Time) error {
	return b.client.ZAdd(ctx, set, redis.Z{Score: float64(at.Unix()), Member: data}).Err()
}

func (b *RedisBackend) PromoteDue(ctx context.Context, set, list string, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, member := range due {
		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, set, member)
		pipe.LPush(ctx, list, member)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
