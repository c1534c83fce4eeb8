// Package cache provides the shared redis client. Idempotency replay,
// webhook rate limiting and the settings cache all sit on it, and all
// of them degrade gracefully when it is absent.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wujiit/qilingstore-sub001/internal/shared/config"
)

const pingTimeout = 3 * time.Second

// NewRedisClient connects and pings, so a bad address surfaces at
// startup instead of on the first idempotency lookup.
func NewRedisClient(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Close releases the client's connections.
func Close(client redis.UniversalClient) error {
	return client.Close()
}
