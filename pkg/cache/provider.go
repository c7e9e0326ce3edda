package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the byte cache operations used for shared caches.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// MemoryProvider is a process-local Provider backed by TTLCache.
type MemoryProvider struct {
	entries *TTLCache[[]byte]
}

// NewMemoryProvider creates a MemoryProvider. defaultTTL applies when Set is called with ttl <= 0.
func NewMemoryProvider(defaultTTL time.Duration, maxSize int, opts ...Option) *MemoryProvider {
	return &MemoryProvider{entries: NewTTLCache[[]byte](defaultTTL, maxSize, opts...)}
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := p.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := append([]byte(nil), value...)
	if ttl <= 0 {
		p.entries.Set(key, stored)
		return nil
	}
	p.entries.SetWithTTL(key, stored, ttl)
	return nil
}

// Del removes key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.entries.Delete(key)
	return nil
}

// Close is a no-op.
func (p *MemoryProvider) Close() error { return nil }

// Run sweeps expired entries every interval until ctx is done.
func (p *MemoryProvider) Run(ctx context.Context, interval time.Duration) {
	p.entries.Run(ctx, interval)
}
