package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitlab.com/timkado/api/course-data-layer/internal/adapters/metrics"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Producer fetches the value for a request cache key. It receives the context
// of the caller that started the flight.
type Producer func(ctx context.Context) ([]byte, error)

// RequestCache memoizes producer results per key for a TTL and coalesces
// concurrent callers of the same key onto one producer call.
//
// Returned slices are shared between every caller of a flight and with the
// store; callers must not modify them.
type RequestCache struct {
	store  domain.ResponseCacheStore
	logger domain.Logger

	// At most one flight per key. singleflight forgets the key as soon as the
	// flight function returns, after the result has been stored.
	sf singleflight.Group
}

// NewRequestCache creates a request cache over store.
func NewRequestCache(store domain.ResponseCacheStore, logger domain.Logger) *RequestCache {
	return &RequestCache{store: store, logger: logger}
}

// Request returns a live cached value for key, joins the flight already running
// for key, or starts a new flight calling producer. A ttl <= 0 value is never
// read from or written to the store, but overlapping calls still coalesce.
// Errors are delivered to every caller of the flight and never cached.
//
// A caller whose own ctx ends while waiting on someone else's flight returns
// ctx.Err(); the flight itself keeps running for the remaining callers.
func (c *RequestCache) Request(ctx context.Context, key string, ttl time.Duration, producer Producer) ([]byte, error) {
	if ttl > 0 {
		if data, ok := c.lookup(ctx, key); ok {
			metrics.IncrementCacheLookup("hit")
			return data, nil
		}
	}
	metrics.IncrementCacheLookup("miss")

	ch := c.sf.DoChan(key, func() (any, error) {
		// Another flight may have stored the key between our lookup and this one starting.
		if ttl > 0 {
			if data, ok := c.lookup(ctx, key); ok {
				return data, nil
			}
		}

		data, err := producer(ctx)
		if err != nil {
			metrics.IncrementProducerFailure()
			return nil, err
		}

		if ttl > 0 {
			if errSet := c.store.Set(ctx, key, data, ttl); errSet != nil {
				c.logger.Warn(ctx, "Failed to store response in request cache", "key", key, "error", errSet.Error())
			}
		}
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.IncrementCacheLookup("coalesced")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *RequestCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err == nil {
		return data, true
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		c.logger.Warn(ctx, "Request cache lookup failed, treating as miss", "key", key, "error", err.Error())
	}
	return nil, false
}

// Memoize is Request for typed values: results are JSON encoded through the
// byte cache and decoded for each caller, so callers never share a value.
func Memoize[T any](ctx context.Context, c *RequestCache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := c.Request(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("decode memoized value for %q: %w", key, err)
	}
	return out, nil
}
