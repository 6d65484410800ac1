package lease

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis (or Valkey) instance.
// Acquire maps to SET NX EX, Refresh to SET XX KEEPVAL semantics via
// EXPIRE (which reports whether the key existed), Release to DEL.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisConfig holds connection settings for the lease backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"` // host:port. Default: "localhost:6379".
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to lease store at %s: %w", addr, err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

// Acquire sets the lease key only if absent, with TTL.
func (s *RedisStore) Acquire(ctx context.Context, tenantID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, Key(tenantID), "1", TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease for %s: %w", tenantID, err)
	}
	return ok, nil
}

// Refresh extends the TTL only if the key still exists. EXPIRE returns false
// when the key is gone, which is exactly the lease-lost signal.
func (s *RedisStore) Refresh(ctx context.Context, tenantID string) error {
	existed, err := s.client.Expire(ctx, Key(tenantID), TTL).Result()
	if err != nil {
		return fmt.Errorf("refreshing lease for %s: %w", tenantID, err)
	}
	if !existed {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the lease key. Deleting an absent key is not an error.
func (s *RedisStore) Release(ctx context.Context, tenantID string) error {
	if err := s.client.Del(ctx, Key(tenantID)).Err(); err != nil {
		return fmt.Errorf("releasing lease for %s: %w", tenantID, err)
	}
	return nil
}

// Ping reports backend reachability, for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
