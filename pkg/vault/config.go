package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/redis/go-redis/v9"
)

const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

type Config struct {
	Kind          string        `yaml:"kind" validate:"required,oneof=memory redis"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Kind redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

// Open creates the configured token store. The Redis client is returned so
// other components can share it; it is nil for the memory store.
func Open(ctx context.Context, cfg Config) (idp.TokenStore, redis.UniversalClient, error) {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}

	switch cfg.Kind {
	case KindMemory, "":
		slog.Info("Using in-memory token vault", "ttl", ttl)
		return NewMemoryStore(ttl), nil, nil
	case KindRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.RedisAddr, ","),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("Using redis token vault", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", ttl)
		return NewRedisStore(client, cfg.KeyPrefix, ttl), client, nil
	default:
		return nil, nil, fmt.Errorf("unknown vault kind: %s", cfg.Kind)
	}
}
