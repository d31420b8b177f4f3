package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore keeps tokens in Redis under "<prefix>:tokens:<session id>".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "zero-dash"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":tokens:" + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*idp.Tokens, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session '%s': %w", sessionID, idp.ErrTokensNotFound)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, tokens *idp.Tokens) error {
	data, err := encode(tokens)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
