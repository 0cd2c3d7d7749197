package cache

import (
	"context"
	"errors"
	"time"

	"unchained/pkg/logger"
)

// Remember returns the cached value for key or computes, stores and returns it.
// Concurrent misses for the same key share one computation.
func Remember[T any](ctx context.Context, s *Storage, key Key, ttl time.Duration, fn func(ctx context.Context) (T, error), tags ...string) (T, error) {
	var zero T
	name := key.String()

	data, err := s.Get(ctx, name)
	switch {
	case err == nil:
		var out T
		if err := s.codec.decode(data, &out); err == nil {
			return out, nil
		}
		logger.Warn(ctx, "discarding undecodable cache entry", "key", name)
	case !errors.Is(err, ErrCacheMiss):
		logger.Warn(ctx, "cache read failed", "key", name, "error", err)
	}

	v, err, _ := s.flight.Do(name, func() (any, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := s.codec.encode(out)
		if err != nil {
			logger.Warn(ctx, "cache encode failed", "key", name, "error", err)
			return out, nil
		}
		if err := s.Set(ctx, name, encoded, WithExpiration(ttl), WithTags(tags...)); err != nil {
			logger.Warn(ctx, "cache write failed", "key", name, "error", err)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
