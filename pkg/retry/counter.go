package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter tracks failed deliveries per stream entry in redis so the count
// survives consumer restarts. Keys expire after ttl whatever happens to the
// entry itself.
type Counter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCounter(rdb redis.Cmdable, ttl time.Duration) *Counter {
	return &Counter{rdb: rdb, ttl: ttl}
}

func (c *Counter) Key(stream, group, entryID string) string {
	return fmt.Sprintf("retry:%s:%s:%s", stream, group, entryID)
}

// Incr bumps the counter and refreshes its expiry in one round trip.
func (c *Counter) Incr(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return n, nil
}

func (c *Counter) Reset(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}
