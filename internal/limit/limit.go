// Package limit gates inbound websocket messages per (identity, eventType)
// before they reach the coordinator. The redis implementation uses a fixed
// window counter so all server instances share one budget.
package limit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is a gate verdict. When Allowed is false, ResetAt tells the
// client when the window reopens.
type Decision struct {
	Allowed bool
	ResetAt time.Time
}

// Gate decides whether an inbound event may proceed.
type Gate interface {
	Allow(ctx context.Context, identity, eventType string) (Decision, error)
}

// NopGate allows everything. Used in tests and single-user deploys.
type NopGate struct{}

func (NopGate) Allow(context.Context, string, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// RedisGate is a fixed-window counter per (identity, eventType).
type RedisGate struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisGate(client *redis.Client, limit int64, window time.Duration) *RedisGate {
	return &RedisGate{client: client, limit: limit, window: window}
}

func (g *RedisGate) Allow(ctx context.Context, identity, eventType string) (Decision, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", identity, eventType)

	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count <= g.limit {
		return Decision{Allowed: true}, nil
	}

	ttl, err := g.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = g.window
	}
	return Decision{Allowed: false, ResetAt: time.Now().Add(ttl)}, nil
}
