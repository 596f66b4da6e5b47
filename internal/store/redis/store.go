package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "climate:snapshot:"

// SnapshotStore persists zone snapshot blobs keyed by zone ID. The codec
// lives in internal/snapshot; the store only moves bytes.
type SnapshotStore interface {
	Save(ctx context.Context, zoneID string, data []byte) error
	Load(ctx context.Context, zoneID string) ([]byte, error)
	LoadAll(ctx context.Context) (map[string][]byte, error)
	Close() error
}

// Store is the Redis-backed snapshot store.
type Store struct {
	client *redis.Client
}

func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Save(ctx context.Context, zoneID string, data []byte) error {
	if zoneID == "" {
		return errors.New("empty zone id")
	}
	if err := s.client.Set(ctx, keyPrefix+zoneID, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", zoneID, err)
	}
	return nil
}

// Load returns the stored blob, or nil when the zone has no snapshot yet.
func (s *Store) Load(ctx context.Context, zoneID string) ([]byte, error) {
	data, err := s.client.Get(ctx, keyPrefix+zoneID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", zoneID, err)
	}
	return data, nil
}

// LoadAll scans the snapshot keyspace and returns every stored blob.
func (s *Store) LoadAll(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, keyPrefix)] = data
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// InMemoryStore is a map-backed SnapshotStore for tests and single-process
// runs without Redis.
type InMemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string][]byte)}
}

func (s *InMemoryStore) Save(_ context.Context, zoneID string, data []byte) error {
	if zoneID == "" {
		return errors.New("empty zone id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[zoneID] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, zoneID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.snapshots[zoneID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *InMemoryStore) LoadAll(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.snapshots))
	for id, data := range s.snapshots {
		out[id] = append([]byte(nil), data...)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string][]byte)
	return nil
}
