package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/scribesync/internal/domain/providers"
	redisclient "github.com/zatekoja/scribesync/internal/infrastructure/clients/redis"
)

// KeyPrefix namespaces every local storage key
const KeyPrefix = "scribesync:"

// RedisStorage implements LocalStorage on Redis, namespaced per owner
type RedisStorage struct {
	client  *redis.Client
	ownerID string
}

// NewRedisStorage creates a Redis-backed local storage for ownerID
func NewRedisStorage(client *redisclient.Client, ownerID string) *RedisStorage {
	return &RedisStorage{client: client.Client(), ownerID: ownerID}
}

func (s *RedisStorage) key(key string) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, s.ownerID, key)
}

// Get retrieves a value, returning ErrStorageKeyNotFound if absent
func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", providers.ErrStorageKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s from local storage: %w", key, err)
	}
	return value, nil
}

// Set stores a value without expiry
func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in local storage: %w", key, err)
	}
	return nil
}

// Remove deletes a value
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from local storage: %w", key, err)
	}
	return nil
}

// Clear removes every key stored for the owner
func (s *RedisStorage) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to list local storage keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear local storage: %w", err)
	}
	return nil
}

var _ providers.LocalStorage = (*RedisStorage)(nil)
