package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements Provider on a go-redis client.
// Keys are namespaced with a prefix so several caches can share one database.
type RedisProvider struct {
	client   redis.UniversalClient
	prefix   string
	onLookup func(hit bool)
}

// NewRedisProvider wraps client. The client is owned by the caller unless Close is called.
func NewRedisProvider(client redis.UniversalClient, prefix string, opts ...Option) *RedisProvider {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisProvider{client: client, prefix: prefix, onLookup: o.onLookup}
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		p.observe(false)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	p.observe(true)
	return b, nil
}

// Set stores bytes with the provided TTL. A zero TTL stores without expiry.
func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.client.Set(ctx, p.prefix+key, value, ttl).Err()
}

// Del removes a key from the cache.
func (p *RedisProvider) Del(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.prefix+key).Err()
}

// Close closes the underlying client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

func (p *RedisProvider) observe(hit bool) {
	if p.onLookup != nil {
		p.onLookup(hit)
	}
}
