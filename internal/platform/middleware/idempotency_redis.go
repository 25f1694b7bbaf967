package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPendingMarker = "pending"

// RedisIdempotencyStore shares idempotency keys across server instances.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisIdempotencyStore connects to redisURL (redis://...) and verifies
// the connection.
func NewRedisIdempotencyStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisIdempotencyStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: "hrmonitor:idem", ttl: ttl}, nil
}

func (s *RedisIdempotencyStore) Close() error { return s.client.Close() }

func (s *RedisIdempotencyStore) key(k string) string { return s.keyPrefix + ":" + k }

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (*IdempotentResponse, bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), redisPendingMarker, pendingTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in flight and let the
		// client retry rather than racing a second reservation here.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key: %w", err)
	}
	return decodeIdempotent(raw)
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp *IdempotentResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	return s.client.Set(ctx, s.key(key), raw, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// decodeIdempotent turns a stored value into Reserve's result.
func decodeIdempotent(raw []byte) (*IdempotentResponse, bool, error) {
	if string(raw) == redisPendingMarker {
		return nil, false, nil
	}
	var resp IdempotentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode idempotent response: %w", err)
	}
	return &resp, false, nil
}
