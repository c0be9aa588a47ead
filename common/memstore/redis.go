package memstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/agentflow/common/redis"
)

// keyPrefix namespaces workflow memory away from other redis users
const keyPrefix = "workflow_memory:"

// redisStore persists values as JSON strings in redis
type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a redis-backed store
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) (interface{}, error) {
	raw, found, err := s.client.TryGet(ctx, keyPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory key %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("failed to decode memory key %s: %w", key, err)
	}
	return value, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memory key %s: %w", key, err)
	}

	// No expiry: workflow memory lives until cleared
	if err := s.client.Set(ctx, keyPrefix+key, string(encoded), 0); err != nil {
		return fmt.Errorf("failed to write memory key %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteByPattern(ctx, keyPrefix+"*"); err != nil {
		return fmt.Errorf("failed to clear memory store: %w", err)
	}
	return nil
}

func (s *redisStore) Backend() string {
	return "redis"
}

func (s *redisStore) Available(ctx context.Context) bool {
	return s.client != nil && s.client.Ping(ctx) == nil
}

func (s *redisStore) Entries(ctx context.Context) (map[string]interface{}, error) {
	keys, err := s.client.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory keys: %w", err)
	}

	entries := make(map[string]interface{}, len(keys))
	for _, fullKey := range keys {
		key := fullKey[len(keyPrefix):]
		value, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		entries[key] = value
	}
	return entries, nil
}
