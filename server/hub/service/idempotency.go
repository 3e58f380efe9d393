package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard deduplicates client-generated message ids.
type IdempotencyGuard interface {
	// Claim reports false when the key was already claimed.
	Claim(ctx context.Context, senderID, clientMsgID string) (bool, error)
	Release(ctx context.Context, senderID, clientMsgID string) error
}

const DefaultIdempotencyTTL = 24 * time.Hour

type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotency{client: client, ttl: ttl}
}

func idempotencyKey(senderID, clientMsgID string) string {
	return fmt.Sprintf("hub:message:idempotency:%s:%s", senderID, clientMsgID)
}

func (r *RedisIdempotency) Claim(ctx context.Context, senderID, clientMsgID string) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKey(senderID, clientMsgID), "1", r.ttl).Result()
}

func (r *RedisIdempotency) Release(ctx context.Context, senderID, clientMsgID string) error {
	return r.client.Del(ctx, idempotencyKey(senderID, clientMsgID)).Err()
}
