// Package session provides the durable per-run key/value map used to pass
// typed values between activities of one workflow instance.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the session contract every activity reads/writes through.
type Store interface {
	StoreValue(ctx context.Context, run, key string, value any) error
	Load(ctx context.Context, run, key string) (any, bool, error)
}

// RedisStore persists session values in a Redis hash keyed
// "session:<run>", field name the session key, value the JSON encoding —
// the same URL-parse-then-ping construction idiom and JSON-marshal cache
// pattern used for this codebase's Redis-backed queue and cache
// repository.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses url (e.g. "redis://localhost:6379/0"), verifies
// connectivity, and returns a ready Store.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("session: connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func hashKey(run string) string { return "session:" + run }

// StoreValue writes value under key in run's session, last-write-wins.
func (s *RedisStore) StoreValue(ctx context.Context, run, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("session: marshal %s/%s: %w", run, key, err)
	}
	if err := s.client.HSet(ctx, hashKey(run), key, data).Err(); err != nil {
		return fmt.Errorf("session: store %s/%s: %w", run, key, err)
	}
	return nil
}

// Load returns the value stored under key in run's session, or ok=false
// if no such key has ever been written.
func (s *RedisStore) Load(ctx context.Context, run, key string) (any, bool, error) {
	data, err := s.client.HGet(ctx, hashKey(run), key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session: load %s/%s: %w", run, key, err)
	}
	var value any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, false, fmt.Errorf("session: unmarshal %s/%s: %w", run, key, err)
	}
	return value, true, nil
}

// LoadString is a convenience wrapper for the common case of a string
// session value (the ingest pipeline's status/run_type/article_id/version).
func LoadString(ctx context.Context, s Store, run, key string) (string, bool, error) {
	v, ok, err := s.Load(ctx, run, key)
	if err != nil || !ok {
		return "", ok, err
	}
	str, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("session: value at %s/%s is not a string (got %T)", run, key, v)
	}
	return str, true, nil
}

var _ Store = (*RedisStore)(nil)
