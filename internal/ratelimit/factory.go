package ratelimit

import (
	"log"

	"github.com/redis/go-redis/v9"
)

// New picks the limiter backend. A nil client selects the in-process
// limiter, which is exact for a single instance.
func New(client *redis.Client, prefix string) Limiter {
	if client == nil {
		log.Printf("ratelimit: using in-process limiter")
		return NewMemoryLimiter()
	}
	log.Printf("ratelimit: using redis limiter")
	return NewRedisLimiter(client, prefix)
}
