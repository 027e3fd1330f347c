package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/solroute/internal/errs"
)

// RedisStore backs the Store interface with a Redis instance. Used when the
// router runs with more than one replica and cache entries must be shared.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given address.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
	}
}

// NewRedisStoreWithClient wraps an existing client; tests inject a mock here.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CacheError, "redis get failed", err).WithDetail("key", key)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errs.Wrap(errs.CacheError, "redis set failed", err).WithDetail("key", key)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errs.Wrap(errs.CacheError, "redis delete failed", err).WithDetail("key", key)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errs.Wrap(errs.CacheError, "redis exists failed", err).WithDetail("key", key)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
