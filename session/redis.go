package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitwit/dns402/types"
)

const defaultRedisPrefix = "dns402:session:"

// RedisStore shares sessions between gateway replicas. Keys expire in Redis
// at the session's expiry; Get still checks ExpiresAt against the store
// clock.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithPrefix namespaces keys, e.g. "dns402:replay:" for a replay guard.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisClock replaces time.Now.
func WithRedisClock(c Clock) RedisOption {
	return func(s *RedisStore) {
		s.now = c
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (types.Session, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Session{}, ErrNotFound
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("redis get session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return types.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		return types.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *RedisStore) encode(sess types.Session) ([]byte, time.Duration, bool, error) {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, 0, false, nil
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, 0, false, fmt.Errorf("encode session: %w", err)
	}
	return raw, ttl, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, sess types.Session) error {
	raw, ttl, live, err := s.encode(sess)
	if err != nil {
		return err
	}
	if !live {
		// already expired: make sure no older entry survives either
		return s.Delete(ctx, key)
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, sess types.Session) (bool, error) {
	raw, ttl, live, err := s.encode(sess)
	if err != nil {
		return false, err
	}
	if !live {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(key), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx session: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear sessions: %w", err)
	}
	return nil
}

// Close does not close the shared client; its owner does.
func (s *RedisStore) Close() error {
	return nil
}
