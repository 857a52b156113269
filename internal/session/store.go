package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the interface for session persistence.
type Store interface {
	// Put inserts or overwrites the session stored under id.
	Put(ctx context.Context, id string, data *Session) error

	// Get retrieves a session by ID. Returns nil if not found or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session by ID. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// ErrNilSession is returned by Put when asked to store a nil session.
var ErrNilSession = errors.New("session: nil session")

// DefaultPrefix namespaces session keys in Redis.
const DefaultPrefix = "bff:session:"

// RedisStore implements Store backed by Redis (standalone or Sentinel).
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Put persists the session. The Redis TTL follows ExpiresAt so expired
// records disappear without a sweep.
func (s *RedisStore) Put(ctx context.Context, id string, data *Session) error {
	if data == nil {
		return ErrNilSession
	}

	var ttl time.Duration
	if !data.ExpiresAt.IsZero() {
		ttl = data.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Delete(ctx, id)
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(id), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil if not found.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data Session
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	// Redis expiry has second granularity; re-check against the record.
	if data.IsExpired(s.now()) {
		return nil, nil
	}
	return &data, nil
}

// Delete removes a session by ID.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
