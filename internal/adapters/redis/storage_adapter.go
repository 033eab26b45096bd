package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// StorageAdapter implements domain.KeyValueStore on plain Redis strings, letting
// several processes share one durable storage area.
type StorageAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewStorageAdapter creates a new instance of StorageAdapter.
func NewStorageAdapter(redisClient *redis.Client, logger domain.Logger) *StorageAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewStorageAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewStorageAdapter")
	}
	return &StorageAdapter{redisClient: redisClient, logger: logger}
}

var _ domain.KeyValueStore = (*StorageAdapter)(nil)

func (a *StorageAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to read storage key from Redis", "key", key, "error", err.Error())
		return "", fmt.Errorf("redis GET for key '%s' failed: %w", key, err)
	}
	return val, nil
}

func (a *StorageAdapter) Set(ctx context.Context, key string, value string) error {
	if err := a.redisClient.Set(ctx, key, value, 0).Err(); err != nil {
		a.logger.Error(ctx, "Failed to write storage key to Redis", "key", key, "error", err.Error())
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *StorageAdapter) Delete(ctx context.Context, key string) error {
	if err := a.redisClient.Del(ctx, key).Err(); err != nil {
		a.logger.Error(ctx, "Failed to delete storage key from Redis", "key", key, "error", err.Error())
		return fmt.Errorf("redis DEL for key '%s' failed: %w", key, err)
	}
	return nil
}
