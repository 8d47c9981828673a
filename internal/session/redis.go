package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session records in Redis with a TTL so multi-instance
// deployments share state and expiry is handled server-side. Per-call Redis
// failures degrade to an in-process shadow map instead of failing the turn.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	shadow *MemoryStore
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		shadow: NewMemoryStore(),
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Printf("session: redis get failed, using shadow store: %v", err)
		return r.shadow.Get(ctx, id)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// A corrupted record is unrecoverable; treat it as absent.
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, ErrNotFound
	}
	// Refresh TTL on access so active conversations never expire mid-flight.
	_ = r.client.Expire(ctx, r.key(id), r.ttl).Err()
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	c := clone(s)
	c.LastActivityAt = time.Now().UTC()
	if c.StartedAt.IsZero() {
		c.StartedAt = c.LastActivityAt
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(c.ID), raw, r.ttl).Err(); err != nil {
		log.Printf("session: redis put failed, using shadow store: %v", err)
		return r.shadow.Put(ctx, s)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		log.Printf("session: redis delete failed: %v", err)
	}
	return r.shadow.Delete(ctx, id)
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := r.client.Keys(ctx, r.prefix+"session:*").Result()
	if err != nil {
		return r.shadow.Count(ctx)
	}
	return len(keys), nil
}

// SweepExpired only touches the shadow map; Redis expires its own keys.
func (r *RedisStore) SweepExpired(ctx context.Context, timeout time.Duration) (int, error) {
	return r.shadow.SweepExpired(ctx, timeout)
}
