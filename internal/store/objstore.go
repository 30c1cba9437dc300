package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	redisv9 "github.com/redis/go-redis/v9"
)

// ErrObjectNotFound reports a missing object, as distinct from a storage
// transport failure.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the remote blob interface session records are persisted
// through: full-object reads and full-object overwrites, nothing partial.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// RedisObjectStore keeps blobs in redis, one key per object.
type RedisObjectStore struct {
	client *redisv9.Client
}

func NewRedisObjectStore(client *redisv9.Client) *RedisObjectStore {
	return &RedisObjectStore{client: client}
}

func (s *RedisObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get object failed: %w", err)
	}
	return raw, nil
}

func (s *RedisObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	// Redis values are untyped; contentType is accepted for interface
	// compatibility with object stores that record it.
	_ = contentType
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis put object failed: %w", err)
	}
	return nil
}

// MemoryObjectStore is an in-process ObjectStore for tests and local runs.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = stored
	return nil
}

// Keys returns the stored object keys, for inspection in tests.
func (s *MemoryObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
