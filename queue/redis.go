package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const limiterKeyPrefix = "cloudtasks:ratelimit"

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisLimiter gates dispatches per queue with fixed windows counted in
// Redis, so several emulator processes share one budget. Queues without a
// positive max_dispatches_per_second are not limited.
type RedisLimiter struct {
	rdb      *redis.Client
	registry *Registry
	now      func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, registry *Registry) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, registry: registry, now: time.Now}
}

// window returns the window length and the dispatches allowed in it.
// Rates below one per second widen the window instead of rounding up.
func window(rate float64) (time.Duration, int64) {
	if rate >= 1 {
		return time.Second, int64(math.Floor(rate))
	}
	return time.Duration(float64(time.Second) / rate), 1
}

func (l *RedisLimiter) Allow(ctx context.Context, queueID string) (bool, time.Duration, error) {
	q, ok := l.registry.Lookup(queueID)
	if !ok || q.MaxDispatchesPerSecond <= 0 {
		return true, 0, nil
	}

	size, limit := window(q.MaxDispatchesPerSecond)
	now := l.now()
	slot := now.UnixNano() / int64(size)
	key := fmt.Sprintf("%s:%s:%d", limiterKeyPrefix, queueID, slot)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*size)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", queueID, err)
	}

	if incr.Val() <= limit {
		return true, 0, nil
	}
	next := time.Unix(0, (slot+1)*int64(size))
	return false, next.Sub(now), nil
}

// Wait blocks until the queue's current window has room or ctx ends.
func (l *RedisLimiter) Wait(ctx context.Context, queueID string) error {
	for {
		ok, retryIn, err := l.Allow(ctx, queueID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
