package denylist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tokensvc:denylist:"

// RedisDenylist shares revocations across server instances.
type RedisDenylist struct {
	client *redis.Client
}

// NewRedisDenylist connects to Redis and verifies the connection.
func NewRedisDenylist(ctx context.Context, addr, password string) (*RedisDenylist, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisDenylist{client: client}, nil
}

func (r *RedisDenylist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.SetEx(ctx, redisKeyPrefix+tokenID, "1", ttl).Err()
}

func (r *RedisDenylist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisDenylist) Close() error {
	return r.client.Close()
}
