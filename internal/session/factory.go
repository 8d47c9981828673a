package session

import (
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewStore picks the backend for session state. A nil client selects the
// in-memory store: availability beats durability for ephemeral sessions, so
// an unreachable Redis at startup degrades rather than failing the service.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	if client == nil {
		log.Printf("session: using in-memory store")
		return NewMemoryStore()
	}
	log.Printf("session: using redis store")
	return NewRedisStore(client, prefix, ttl)
}
