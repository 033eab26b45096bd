package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/storagekeys"
)

// ResponseCacheAdapter implements domain.ResponseCacheStore using Redis key expiry
// for TTL eviction.
type ResponseCacheAdapter struct {
	redisClient *redis.Client
	namespace   string
	logger      domain.Logger
}

// NewResponseCacheAdapter creates a new instance of ResponseCacheAdapter.
func NewResponseCacheAdapter(redisClient *redis.Client, namespace string, logger domain.Logger) *ResponseCacheAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewResponseCacheAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewResponseCacheAdapter")
	}
	if namespace == "" {
		namespace = storagekeys.DefaultNamespace
	}
	return &ResponseCacheAdapter{redisClient: redisClient, namespace: namespace, logger: logger}
}

var _ domain.ResponseCacheStore = (*ResponseCacheAdapter)(nil)

// Get retrieves a cached response body.
func (a *ResponseCacheAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	redisKey := storagekeys.ResponseCacheKey(a.namespace, key)
	val, err := a.redisClient.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		a.logger.Debug(ctx, "Response cache miss", "key", key)
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to get response from Redis cache", "key", key, "error", err.Error())
		return nil, fmt.Errorf("redis GET for response key '%s' failed: %w", redisKey, err)
	}

	a.logger.Debug(ctx, "Response cache hit", "key", key)
	return val, nil
}

// Set stores a response body with a TTL. A non-positive ttl is not stored,
// since Redis would keep such a key forever.
func (a *ResponseCacheAdapter) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	redisKey := storagekeys.ResponseCacheKey(a.namespace, key)
	if err := a.redisClient.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		a.logger.Error(ctx, "Failed to set response in Redis cache", "key", key, "error", err.Error())
		return fmt.Errorf("redis SET for response key '%s' failed: %w", redisKey, err)
	}

	a.logger.Debug(ctx, "Cached response", "key", key, "ttl", ttl.String())
	return nil
}
