package ttscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds synthesized audio keyed by what was spoken and how. Identical
// text under the same voice and mode must return the cached payload; any
// difference in voice or mode is a distinct entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, audio []byte)
}

// Key derives the cache key. Text is trimmed and case-folded so trivial
// variations of the same sentence share an entry; voice and mode are part of
// the key because they change the rendered audio.
func Key(text, voiceID, modeName string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(norm + "|" + voiceID + "|" + modeName))
	return hex.EncodeToString(sum[:])
}

// MemoryCache bounds memory with LRU eviction. A hit refreshes recency, so
// frequently spoken lines survive while one-off synthesis ages out.
type MemoryCache struct {
	entries *lru.Cache[string, []byte]
}

func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	entries, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.entries.Get(key)
}

func (c *MemoryCache) Put(_ context.Context, key string, audio []byte) {
	c.entries.Add(key, audio)
}

// Len reports the current entry count.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
