package gateway

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/patrickmn/go-cache"
)

// Cache stores fetched feed documents for a short time so overlapping polls of
// the same feed do not hit the origin twice.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

type MemcacheCache struct {
	client *memcache.Client
}

func NewMemcacheCache(client *memcache.Client) *MemcacheCache {
	return &MemcacheCache{client: client}
}

func (c *MemcacheCache) Get(key string) ([]byte, bool) {
	item, err := c.client.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

func (c *MemcacheCache) Set(key string, value []byte, ttl time.Duration) {
	_ = c.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	})
}

type LocalCache struct {
	cache *cache.Cache
}

func NewLocalCache() *LocalCache {
	return &LocalCache{cache: cache.New(10*time.Minute, 15*time.Minute)}
}

func (c *LocalCache) Get(key string) ([]byte, bool) {
	x, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	return x.([]byte), true
}

func (c *LocalCache) Set(key string, value []byte, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}
