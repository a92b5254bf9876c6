package checkpoint

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists a Snapshot as a single JSON value under key, useful
// when more than one orchestrator process (e.g. behind a failover pair)
// needs a shared checkpoint instead of a local file.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a RedisStore writing to key via client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("checkpoint: writing to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading from redis: %w", err)
	}
	snap, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: parsing redis value: %w", err)
	}
	return snap, nil
}
