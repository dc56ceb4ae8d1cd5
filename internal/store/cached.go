package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyrosq/mqs/internal/cache"
	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/logging"
)

// queueCacheTTL bounds how long a cached queue configuration may be served
// stale; writes invalidate eagerly, so this is only a backstop.
const queueCacheTTL = 30 * time.Second

// CachedStore wraps a Store with a read-through cache over GetQueue, the
// hottest lookup on the publish and receive paths. Writes invalidate the
// affected key synchronously before returning.
type CachedStore struct {
	Store
	cache       cache.Cache
	invalidator *cache.CacheInvalidator
}

// NewCachedStore decorates inner with a read-through cache for queue
// configuration lookups.
func NewCachedStore(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

// NewCachedStoreWithInvalidator is like NewCachedStore but also publishes an
// invalidation signal over Redis Pub/Sub on every write, so sibling mqsd
// instances evict their local L1 cache instead of waiting out the TTL.
func NewCachedStoreWithInvalidator(inner Store, c cache.Cache, inv *cache.CacheInvalidator) *CachedStore {
	return &CachedStore{Store: inner, cache: c, invalidator: inv}
}

func queueCacheKey(name string) string { return "mqs:queue:" + name }

func (c *CachedStore) GetQueue(ctx context.Context, name string) (domain.Queue, error) {
	key := queueCacheKey(name)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var q domain.Queue
		if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil {
			return q, nil
		}
	}

	q, err := c.Store.GetQueue(ctx, name)
	if err != nil {
		return domain.Queue{}, err
	}

	if raw, err := json.Marshal(q); err == nil {
		if err := c.cache.Set(ctx, key, raw, queueCacheTTL); err != nil {
			logging.Op().Warn("queue cache set failed", "queue", name, "error", err)
		}
	}
	return q, nil
}

func (c *CachedStore) CreateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	q, err := c.Store.CreateQueue(ctx, name, cfg)
	if err == nil {
		c.invalidate(ctx, name)
	}
	return q, err
}

func (c *CachedStore) UpdateQueue(ctx context.Context, name string, cfg domain.QueueConfig) (domain.Queue, error) {
	q, err := c.Store.UpdateQueue(ctx, name, cfg)
	if err == nil {
		c.invalidate(ctx, name)
	}
	return q, err
}

func (c *CachedStore) DeleteQueue(ctx context.Context, name string) (domain.Queue, error) {
	q, err := c.Store.DeleteQueue(ctx, name)
	if err == nil {
		c.invalidate(ctx, name)
	}
	return q, err
}

func (c *CachedStore) invalidate(ctx context.Context, name string) {
	key := queueCacheKey(name)
	if err := c.cache.Delete(ctx, key); err != nil {
		logging.Op().Warn("queue cache invalidate failed", "queue", name, "error", err)
	}
	if c.invalidator != nil {
		if err := c.invalidator.PublishInvalidation(ctx, key); err != nil {
			logging.Op().Warn("queue cache invalidation broadcast failed", "queue", name, "error", err)
		}
	}
}
