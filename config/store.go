package config

import (
	"asset-trader/asset"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// OpenStore returns the configured asset store and a function releasing it.
func (c *Config) OpenStore(logger *zap.Logger) (asset.Store, func() error) {
	if c.Store.RedisAddr == "" {
		return asset.NewFileStore(c.Store.Path, logger), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr: c.Store.RedisAddr,
		DB:   c.Store.RedisDB,
	})
	return asset.NewRedisStore(client, c.Store.RedisKey, logger), client.Close
}
