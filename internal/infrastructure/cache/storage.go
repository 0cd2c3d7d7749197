// Package cache provides the process-wide result cache and derived-config memoization.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCacheMiss   = errors.New("cache: key not found")
	errSetRejected = errors.New("cache: entry rejected")
)

// Config selects and configures the cache backend.
type Config struct {
	// Driver is "memory" (default) or "redis".
	Driver   string
	Addr     string
	Username string
	Password string
	DB       int
	// CompressThreshold is the payload size in bytes above which values are zstd-compressed.
	CompressThreshold int
}

type (
	// Storage is the cache entry point; it delegates to a memory or redis backend.
	Storage struct {
		backend cacheBackend
		codec   *codec
		flight  singleflight.Group
	}
	cacheBackend interface {
		get(ctx context.Context, key string) ([]byte, bool, error)
		delete(ctx context.Context, key string) error
		set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
		invalidate(ctx context.Context, tags []string) error
	}
	cacheOptions struct {
		expiration     time.Duration
		tags           []string
		invalidateTags []string
	}
	Option func(*cacheOptions)
)

// NewStorage builds a Storage for cfg.
func NewStorage(cfg Config) (*Storage, error) {
	c, err := newCodec(cfg.CompressThreshold)
	if err != nil {
		return nil, err
	}
	if strings.ToLower(cfg.Driver) != "redis" {
		backend, err := newRistrettoBackend()
		if err != nil {
			return nil, err
		}
		return &Storage{backend: backend, codec: c}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Storage{backend: &redisBackend{client: client}, codec: c}, nil
}

// NewMemoryStorage builds an in-process Storage with default settings.
func NewMemoryStorage() (*Storage, error) {
	return NewStorage(Config{Driver: "memory"})
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok, err := s.backend.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return val, nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte, opts ...Option) error {
	option := applyOptions(opts...)
	return s.backend.set(ctx, key, value, option.expiration, option.tags)
}

// Delete removes one key and its tag bindings.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.delete(ctx, key)
}

// Invalidate drops every key bound to the given tags.
func (s *Storage) Invalidate(ctx context.Context, opts ...Option) error {
	option := applyOptions(opts...)
	if len(option.invalidateTags) == 0 {
		return nil
	}
	return s.backend.invalidate(ctx, option.invalidateTags)
}

// Forget deletes keys, ignoring the ones that are not cached.
func (s *Storage) Forget(ctx context.Context, keys ...Key) error {
	var errs []error
	for _, k := range keys {
		if err := s.Delete(ctx, k.String()); err != nil && !errors.Is(err, ErrCacheMiss) {
			errs = append(errs, fmt.Errorf("forget %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func WithExpiration(exp time.Duration) Option {
	return func(opt *cacheOptions) {
		opt.expiration = exp
	}
}

func WithTags(tags ...string) Option {
	return func(opt *cacheOptions) {
		opt.tags = append(opt.tags, tags...)
	}
}

func WithInvalidateTags(tags ...string) Option {
	return func(opt *cacheOptions) {
		opt.invalidateTags = append(opt.invalidateTags, tags...)
	}
}

func applyOptions(opts ...Option) cacheOptions {
	opt := cacheOptions{}
	for _, fn := range opts {
		if fn != nil {
			fn(&opt)
		}
	}
	return opt
}

type ristrettoBackend struct {
	cache *ristretto.Cache[string, []byte]
	tags  *tagIndex
}

func newRistrettoBackend() (*ristrettoBackend, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        1e5,
		MaxCost:            1 << 28,
		BufferItems:        64,
		Cost:               func(value []byte) int64 { return int64(len(value)) },
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoBackend{cache: cache, tags: newTagIndex()}, nil
}

func (b *ristrettoBackend) get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return val, true, nil
}

func (b *ristrettoBackend) set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ok := b.cache.SetWithTTL(key, value, 0, ttl); !ok {
		return errSetRejected
	}
	// ristretto applies sets asynchronously; wait so an immediate read hits.
	b.cache.Wait()
	b.tags.add(tags, key, ttl)
	return nil
}

func (b *ristrettoBackend) delete(_ context.Context, key string) error {
	if _, ok := b.cache.Get(key); !ok {
		return ErrCacheMiss
	}
	b.cache.Del(key)
	b.tags.removeKey(key)
	return nil
}

func (b *ristrettoBackend) invalidate(_ context.Context, tags []string) error {
	for _, key := range b.tags.pop(tags) {
		b.cache.Del(key)
	}
	return nil
}

type redisBackend struct{ client *redis.Client }

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) delete(ctx context.Context, key string) error {
	deleted, err := b.client.Unlink(ctx, key).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrCacheMiss
	}
	return nil
}

func (b *redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	p := b.client.Pipeline()
	p.Set(ctx, key, value, ttl)
	for _, tag := range tags {
		tKey := "tag:" + tag
		p.SAdd(ctx, tKey, key)
		if ttl > 0 {
			p.Expire(ctx, tKey, ttl)
		}
	}
	_, err := p.Exec(ctx)
	return err
}

func (b *redisBackend) invalidate(ctx context.Context, tags []string) error {
	var keys []string
	for _, tag := range tags {
		tagKey := "tag:" + tag
		keys = append(keys, tagKey)
		tagged, err := b.client.SMembers(ctx, tagKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		keys = append(keys, tagged...)
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Unlink(ctx, keys...).Err()
}

// tagIndex maps tags to keys with their expiry for the memory backend.
type tagIndex struct {
	mu   sync.Mutex
	data map[string]map[string]time.Time
}

func newTagIndex() *tagIndex {
	return &tagIndex{data: make(map[string]map[string]time.Time)}
}

func (t *tagIndex) add(tags []string, key string, ttl time.Duration) {
	if len(tags) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	expire := time.Time{}
	if ttl > 0 {
		expire = time.Now().Add(ttl)
	}
	for _, tag := range tags {
		items := t.data[tag]
		if items == nil {
			items = make(map[string]time.Time)
			t.data[tag] = items
		}
		items[key] = expire
	}
}

func (t *tagIndex) pop(tags []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	seen := make(map[string]struct{})
	var result []string
	for _, tag := range tags {
		items, ok := t.data[tag]
		if !ok {
			continue
		}
		for key, exp := range items {
			if !exp.IsZero() && now.After(exp) {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, key)
		}
		delete(t.data, tag)
	}
	return result
}

func (t *tagIndex) removeKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tag, items := range t.data {
		delete(items, key)
		if len(items) == 0 {
			delete(t.data, tag)
		}
	}
}
