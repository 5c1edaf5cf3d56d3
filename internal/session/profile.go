package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProfileStore persists the user profile so it survives a process restart.
// The access token is never persisted.
type ProfileStore interface {
	// Save persists the profile under the given key.
	Save(ctx context.Context, key string, user *UserProfile) error

	// Load retrieves the profile. Returns nil if not found.
	Load(ctx context.Context, key string) (*UserProfile, error)

	// Delete removes the profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisProfileStore implements ProfileStore backed by Redis (standalone or Sentinel).
type RedisProfileStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisProfileStore creates a Redis-backed profile store. A zero ttl keeps
// profiles until deleted.
func NewRedisProfileStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisProfileStore {
	if prefix == "" {
		prefix = "portal:profile:"
	}
	return &RedisProfileStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisProfileStore) key(key string) string {
	return s.prefix + key
}

// Save persists the profile as JSON.
func (s *RedisProfileStore) Save(ctx context.Context, key string, user *UserProfile) error {
	if user == nil {
		return s.Delete(ctx, key)
	}

	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := s.client.Set(ctx, s.key(key), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// Load retrieves the profile. Returns nil if not found.
func (s *RedisProfileStore) Load(ctx context.Context, key string) (*UserProfile, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var user UserProfile
	if err := json.Unmarshal([]byte(val), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &user, nil
}

// Delete removes the profile.
func (s *RedisProfileStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// MemoryProfileStore is an in-process ProfileStore, used when no Redis is configured.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]UserProfile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]UserProfile)}
}

// Save stores a copy of the profile.
func (s *MemoryProfileStore) Save(_ context.Context, key string, user *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == nil {
		delete(s.profiles, key)
		return nil
	}
	s.profiles[key] = *user
	return nil
}

// Load returns a copy of the stored profile, or nil.
func (s *MemoryProfileStore) Load(_ context.Context, key string) (*UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.profiles[key]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Delete removes the profile.
func (s *MemoryProfileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, key)
	return nil
}
