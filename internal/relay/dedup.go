package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/accountsync/userservice/config"
	"github.com/redis/go-redis/v9"
)

const (
	dedupTTL         = time.Hour
	redisPingTimeout = 5 * time.Second
)

// RedisDedup records processed deletion ids in Redis so duplicate broker
// deliveries can be acknowledged without another identity-provider call.
// Entries expire after dedupTTL; after that a duplicate falls through to
// the provider, which reports the user already absent.
type RedisDedup struct {
	client *redis.Client
}

// ConnectRedisDedup initialises a Redis client, validates connectivity with
// a ping, and wraps it in a RedisDedup.
func ConnectRedisDedup(ctx context.Context, cfg config.RedisConfig) (*RedisDedup, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisDedup{client: client}, nil
}

// IsDuplicate reports whether this id has already been processed.
func (d *RedisDedup) IsDuplicate(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records that this id has been processed (expires after dedupTTL).
func (d *RedisDedup) Mark(ctx context.Context, id string) error {
	return d.client.Set(ctx, d.key(id), "1", dedupTTL).Err()
}

// Close releases the underlying Redis client.
func (d *RedisDedup) Close() error {
	return d.client.Close()
}

func (d *RedisDedup) key(id string) string {
	return fmt.Sprintf("dedup:user.deleted:%s", id)
}
