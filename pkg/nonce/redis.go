package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceBits = 256

// RedisNonceService shares nonces between instances.
type RedisNonceService struct {
	client redis.UniversalClient
	prefix string
	expiry time.Duration
}

func NewRedisNonceService(client redis.UniversalClient, prefix string, expiry time.Duration) *RedisNonceService {
	if prefix == "" {
		prefix = "zero-dash"
	}
	return &RedisNonceService{
		client: client,
		prefix: prefix,
		expiry: expiry,
	}
}

func (s *RedisNonceService) key(nonce string) string {
	return s.prefix + ":nonce:" + nonce
}

func (s *RedisNonceService) Get() (string, error) {
	randomBytes := make([]byte, nonceBits/8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(randomBytes)

	err := s.client.Set(context.Background(), s.key(nonce), "", s.expiry).Err()
	if err != nil {
		return "", fmt.Errorf("storing nonce in redis: %w", err)
	}
	return nonce, nil
}

func (s *RedisNonceService) Redeem(nonce string) error {
	if nonce == "" {
		return ErrNonceInvalid
	}
	// DEL reports whether the key existed, so a nonce is redeemed at most once
	n, err := s.client.Del(context.Background(), s.key(nonce)).Result()
	if err != nil {
		return fmt.Errorf("deleting nonce from redis: %w", err)
	}
	if n == 0 {
		return ErrNonceInvalid
	}
	return nil
}
