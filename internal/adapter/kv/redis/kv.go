// Package redis implements the domain.KV contract on go-redis strings.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/glitchwatch/core/internal/domain"
	"github.com/redis/go-redis/v9"
)

var _ domain.KV = (*Store)(nil)

// Store is a domain.KV backed by a Redis client.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing *redis.Client as a domain.KV.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Get returns the value and whether the key was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set writes value with an optional TTL (ttl<=0 means no expiry), last-writer-wins.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX sets the key only if absent, the primitive behind every dedup key.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0
	}
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Incr atomically increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Del removes key.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Keys returns keys matching pattern. Used only by admin/inspection.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.rdb.Keys(ctx, pattern).Result()
}
