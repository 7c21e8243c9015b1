package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

// Cache persists identities between runs.
type Cache interface {
	Load(ctx context.Context) ([]crawler.ProxyIdentity, error)
	Store(ctx context.Context, ids []crawler.ProxyIdentity) error
}

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache keeps one key per identity under a prefix, expiring with the
// identity's lease.
type RedisCache struct {
	client     redisClient
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
	owned      bool
}

// NewRedisCache connects a cache to the server at addr.
func NewRedisCache(addr, prefix string, defaultTTL time.Duration) *RedisCache {
	c := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, defaultTTL)
	c.owned = true
	return c
}

// Close releases the client when the cache created it.
func (c *RedisCache) Close() error {
	closer, ok := c.client.(interface{ Close() error })
	if !c.owned || !ok {
		return nil
	}
	return closer.Close()
}

// NewRedisCacheWithClient builds a cache over an existing client.
func NewRedisCacheWithClient(client redisClient, prefix string, defaultTTL time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "notecrawler:proxy"
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, defaultTTL: defaultTTL, now: time.Now}
}

func (c *RedisCache) key(id crawler.ProxyIdentity) string {
	return fmt.Sprintf("%s:%s", c.prefix, id.Key())
}

// Load returns every cached identity whose lease has not expired.
func (c *RedisCache) Load(ctx context.Context) ([]crawler.ProxyIdentity, error) {
	var (
		out    []crawler.ProxyIdentity
		cursor uint64
	)
	now := c.now()
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan proxy cache: %w", err)
		}
		for _, key := range keys {
			raw, err := c.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get proxy %s: %w", key, err)
			}
			var id crawler.ProxyIdentity
			if err := json.Unmarshal(raw, &id); err != nil {
				continue
			}
			if !id.Expired(now) {
				out = append(out, id)
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Store writes ids, each expiring with its lease or after the default TTL.
func (c *RedisCache) Store(ctx context.Context, ids []crawler.ProxyIdentity) error {
	now := c.now()
	for _, id := range ids {
		ttl := c.defaultTTL
		if !id.ExpiresAt.IsZero() {
			ttl = id.ExpiresAt.Sub(now)
		}
		if ttl <= 0 {
			continue
		}
		raw, err := json.Marshal(id)
		if err != nil {
			return fmt.Errorf("encode proxy %s: %w", id.Key(), err)
		}
		if err := c.client.Set(ctx, c.key(id), raw, ttl).Err(); err != nil {
			return fmt.Errorf("cache proxy %s: %w", id.Key(), err)
		}
	}
	return nil
}
