package ttscache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares synthesized audio across instances. Values carry a TTL
// that is refreshed on every hit, so Redis itself ages out cold entries.
// Audio is stored as raw bytes; Redis strings are binary safe.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	k := c.prefix + "tts:" + key
	audio, err := c.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("ttscache: redis get failed: %v", err)
		return nil, false
	}
	if err := c.client.Expire(ctx, k, c.ttl).Err(); err != nil {
		log.Printf("ttscache: ttl refresh failed: %v", err)
	}
	return audio, true
}

func (c *RedisCache) Put(ctx context.Context, key string, audio []byte) {
	if err := c.client.Set(ctx, c.prefix+"tts:"+key, audio, c.ttl).Err(); err != nil {
		log.Printf("ttscache: redis set failed: %v", err)
	}
}
