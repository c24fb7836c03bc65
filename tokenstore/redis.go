// Package tokenstore provides durable authsession.TokenStore backends and a
// wrapper that degrades to process memory when a backend is unavailable.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelrelay/authsession"
)

const defaultRedisPrefix = "authsession"

// ErrUnavailable wraps backend failures so callers can tell them apart from
// an empty store.
var ErrUnavailable = errors.New("token store unavailable")

// RedisConfig configures a Redis-backed store.
type RedisConfig struct {
	// Prefix namespaces keys; defaults to "authsession".
	Prefix string
	// Account selects the slot, e.g. a device or profile id; defaults to "default".
	Account string
	// TTL expires the stored token; zero keeps it until cleared.
	TTL time.Duration
}

// Redis keeps the refresh token under a single Redis key.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ authsession.TokenStore = (*Redis)(nil)

// NewRedis returns a store using client. The client is not closed by the store.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, authsession.ConfigError{Reason: "redis client is required"}
	}
	if cfg.TTL < 0 {
		return nil, authsession.ConfigError{Reason: "redis TTL must not be negative"}
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{
		client: client,
		key:    prefix + ":refresh:" + slot(cfg.Account),
		ttl:    cfg.TTL,
	}, nil
}

func (s *Redis) RefreshToken(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, nil
}

// SetTokens stores tokens.RefreshToken; an empty value deletes the key.
func (s *Redis) SetTokens(ctx context.Context, tokens authsession.AuthTokens) error {
	if tokens.RefreshToken == "" {
		return s.Clear(ctx)
	}
	if err := s.client.Set(ctx, s.key, tokens.RefreshToken, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func slot(account string) string {
	account = strings.TrimSpace(account)
	if account == "" {
		return "default"
	}
	return account
}
