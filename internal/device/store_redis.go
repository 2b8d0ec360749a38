package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding one field per device id.
const DefaultRedisKey = "graylogic:device_states"

// RedisStore implements Store on a single Redis hash, so other services on
// the same site can read the latest device state without going through the
// rules engine.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a Redis snapshot store. An empty key selects
// DefaultRedisKey.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Save writes the snapshot into the hash field named after the device id.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSnapshot)
	}

	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	if err := s.client.HSet(ctx, s.key, snap.ID, doc).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %w", ErrStoreUnavailable, s.key, err)
	}
	return nil
}

// LoadAll reads the whole hash. Fields that do not decode are skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: hgetall %s: %w", ErrStoreUnavailable, s.key, err)
	}

	snaps := make([]Snapshot, 0, len(fields))
	for id, doc := range fields {
		snap, err := ParseSnapshot([]byte(doc))
		if err != nil || snap.ID != id {
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}
