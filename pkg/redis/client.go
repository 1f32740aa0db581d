package redis

import (
	"notifier/config"

	"github.com/redis/go-redis/v9"
)

// NewClient builds a Redis client. Callers own the returned client and must
// Close it on shutdown; nothing here is package-level state.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
