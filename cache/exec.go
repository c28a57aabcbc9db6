package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// GetAs retrieves a typed value. For the memory tier it performs a
// direct type assertion; for persisted tiers it decodes the stored
// msgpack bytes. A value that fails to decode is treated as corrupt:
// the entry is deleted and the read reports a miss, never an error.
func GetAs[T any](ctx context.Context, s *Service, key string) (bool, T, error) {
	var zero T
	found, val, err := s.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			// Forced delete-and-miss; the stored bytes do not decode
			// into the caller's type.
			s.log.Debug("undecodable cache entry removed",
				zap.String("key", key),
				zap.Error(fmt.Errorf("%w: %v", ErrCorruptEntry, err)))
			_ = s.Remove(ctx, key)
			return false, zero, nil
		}
		return true, result, nil
	}
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}

// CacheConfig configures Exec.
type CacheConfig struct {
	// Key is the cache key. Required.
	Key string
	// Expires is the TTL for a freshly loaded value. Zero uses the
	// service's configured default.
	Expires time.Duration
}

// Invoker produces a value on a cache miss. The bool return
// distinguishes "not found" from "found a zero value"; return false to
// avoid caching absent records.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

type execResult[T any] struct {
	val   T
	found bool
}

// Exec is a cache-aside helper. It checks the cache first and returns a
// hit directly. On a miss it calls invoke, caches a found result, and
// returns it. Concurrent Execs for the same key collapse onto a single
// invoke via singleflight; the other callers share its result. A failed
// Set after a successful invoke is swallowed — the caller already has
// the value, and failing to cache it is a degradation, not a failure.
func Exec[T any](ctx context.Context, config CacheConfig, s *Service, invoke Invoker[T]) (bool, T, error) {
	found, val, err := GetAs[T](ctx, s, config.Key)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	v, err, _ := s.group.Do(config.Key, func() (any, error) {
		// Another flight may have populated the cache while this one
		// queued.
		found, val, err := GetAs[T](ctx, s, config.Key)
		if err != nil {
			return nil, err
		}
		if found {
			return execResult[T]{val: val, found: true}, nil
		}

		result, ok, err := invoke(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return execResult[T]{}, nil
		}
		_ = s.Set(ctx, config.Key, result, config.Expires)
		return execResult[T]{val: result, found: true}, nil
	})
	if err != nil {
		var zero T
		return false, zero, err
	}
	res := v.(execResult[T])
	return res.found, res.val, nil
}
