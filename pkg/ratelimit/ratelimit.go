// Package ratelimit provides fixed-window rate limiting for outbound provider
// calls. The Redis implementation coordinates limits across worker processes;
// the local one serves tests and single-process deployments.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether one more call against the given key is allowed
// within the current window. A denied call should be retried later, not
// dropped.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts calls per key in fixed windows shared across processes.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, time.Now().UnixNano()/int64(l.window))

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, l.window)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return count.Val() <= int64(l.limit), nil
}

// LocalLimiter is an in-process fixed-window limiter.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*localWindow),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	window, ok := l.windows[key]
	if !ok || now.Sub(window.start) >= l.window {
		l.windows[key] = &localWindow{start: now, count: 1}

		return true, nil
	}

	window.count++

	return window.count <= l.limit, nil
}

// Unlimited never denies a call.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}
