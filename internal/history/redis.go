package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "caption:openings:"
	ttl       = 30 * 24 * time.Hour
)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL parses a redis:// URL and checks connectivity.
func NewRedisFromURL(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Recent(ctx context.Context, user string) ([]string, error) {
	out, err := r.client.LRange(ctx, keyPrefix+user, 0, Limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange openings: %w", err)
	}
	return out, nil
}

func (r *Redis) Push(ctx context.Context, user, prefix string) error {
	if prefix == "" {
		return nil
	}
	key := keyPrefix + user
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, prefix)
	pipe.LTrim(ctx, key, 0, Limit-1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push opening: %w", err)
	}
	return nil
}
