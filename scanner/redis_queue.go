package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements TargetQueue on a Redis list.
//
// Addresses are LPUSHed and RPOPed, so order is FIFO and each address is
// handed to exactly one caller even across processes sharing the key.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a queue stored under key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Key returns the Redis key backing the queue.
func (q *RedisQueue) Key() string {
	return q.key
}

// Push enqueues addr.
func (q *RedisQueue) Push(ctx context.Context, addr string) error {
	if err := q.client.LPush(ctx, q.key, addr).Err(); err != nil {
		return fmt.Errorf("push %s to %s: %w", addr, q.key, err)
	}
	return nil
}

// TryPop claims the oldest address without blocking.
func (q *RedisQueue) TryPop(ctx context.Context) (string, bool, error) {
	addr, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop from %s: %w", q.key, err)
	}
	return addr, true, nil
}

// Len returns the list length.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Clear deletes the backing list.
func (q *RedisQueue) Clear(ctx context.Context) error {
	return q.client.Del(ctx, q.key).Err()
}
