package ttscache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKeyIsolatesVoiceAndMode(t *testing.T) {
	base := Key("Hello there.", "marin", "general")
	if Key("hello there.  ", "marin", "general") != base {
		t.Fatalf("Key() should normalize case and surrounding whitespace")
	}
	if Key("Hello there.", "cedar", "general") == base {
		t.Fatalf("Key() must differ across voices")
	}
	if Key("Hello there.", "marin", "interview") == base {
		t.Fatalf("Key() must differ across modes")
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(10)
	if err != nil {
		t.Fatalf("NewMemoryCache() error = %v", err)
	}

	audio := []byte{0xff, 0xf3, 0x01, 0x02}
	key := Key("Hello there.", "marin", "general")
	cache.Put(ctx, key, audio)

	got, ok := cache.Get(ctx, key)
	if !ok {
		t.Fatalf("Get() miss for cached key")
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("Get() = %v, want %v", got, audio)
	}

	if _, ok := cache.Get(ctx, Key("never spoken", "marin", "general")); ok {
		t.Fatalf("Get() hit for unseen key")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(2)
	if err != nil {
		t.Fatalf("NewMemoryCache() error = %v", err)
	}

	cache.Put(ctx, "a", []byte("a"))
	cache.Put(ctx, "b", []byte("b"))
	cache.Get(ctx, "a") // refresh recency
	cache.Put(ctx, "c", []byte("c"))

	if _, ok := cache.Get(ctx, "b"); ok {
		t.Fatalf("least recently used entry should have been evicted")
	}
	if _, ok := cache.Get(ctx, "a"); !ok {
		t.Fatalf("recently used entry should survive eviction")
	}
	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "parla:", time.Hour), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedisCache(t)

	audio := []byte{0xff, 0xf3, 0x01, 0x02}
	cache.Put(ctx, "k1", audio)

	got, ok := cache.Get(ctx, "k1")
	if !ok {
		t.Fatalf("Get() miss for cached key")
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("Get() = %v, want %v", got, audio)
	}
}

func TestRedisCacheHitRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t)
	cache.Put(ctx, "k1", []byte("audio"))

	mr.FastForward(45 * time.Minute)
	if _, ok := cache.Get(ctx, "k1"); !ok {
		t.Fatalf("Get() miss before TTL expiry")
	}

	// The hit reset the clock; another 45 minutes stays under the refreshed TTL.
	mr.FastForward(45 * time.Minute)
	if _, ok := cache.Get(ctx, "k1"); !ok {
		t.Fatalf("Get() miss after TTL should have been refreshed")
	}
}

func TestRedisCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t)
	cache.Put(ctx, "k1", []byte("audio"))

	mr.FastForward(2 * time.Hour)
	if _, ok := cache.Get(ctx, "k1"); ok {
		t.Fatalf("Get() hit past TTL")
	}
}
