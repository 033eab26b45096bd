package domain

import (
	"context"
	"time"
)

// KeyValueStore is the durable storage area shared by every tab of the same origin.
// Get returns ErrKeyNotFound when the key holds no value.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// ResponseCacheStore holds raw response bodies for the request cache.
type ResponseCacheStore interface {
	// Get returns the live entry for key, or ErrCacheMiss once it expired or was never stored.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data until ttl elapses. A non-positive ttl is never stored.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Clock abstracts time for TTL bookkeeping.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
