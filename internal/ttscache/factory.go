package ttscache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// New picks the cache backend. A nil client selects the in-process LRU; a
// cache miss only costs one synthesis call, so degrading is always safe.
func New(client *redis.Client, prefix string, ttl time.Duration, maxEntries int) Cache {
	if client == nil {
		cache, err := NewMemoryCache(maxEntries)
		if err != nil {
			log.Printf("ttscache: lru init failed (%v), caching disabled", err)
			return nopCache{}
		}
		log.Printf("ttscache: using in-process lru cache")
		return cache
	}
	log.Printf("ttscache: using redis cache")
	return NewRedisCache(client, prefix, ttl)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (nopCache) Put(context.Context, string, []byte)        {}
