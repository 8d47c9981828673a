package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps per-session request timestamps in two ZSETs (minute and
// hour windows) so rate limits hold across instances. Redis failures fall
// back to the in-process limiter rather than rejecting or waving through
// unconditionally.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	fallback *MemoryLimiter
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		fallback: NewMemoryLimiter(),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, sessionID string, perMinute, perHour int) bool {
	allowed, err := l.allowRedis(ctx, sessionID, perMinute, perHour)
	if err != nil {
		log.Printf("ratelimit: redis error, using in-process window: %v", err)
		return l.fallback.Allow(ctx, sessionID, perMinute, perHour)
	}
	return allowed
}

func (l *RedisLimiter) allowRedis(ctx context.Context, sessionID string, perMinute, perHour int) (bool, error) {
	now := time.Now()
	minuteKey := l.prefix + "rl:m:" + sessionID
	hourKey := l.prefix + "rl:h:" + sessionID

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, minuteKey, "0", formatScore(now.Add(-minuteWindow)))
	pipe.ZRemRangeByScore(ctx, hourKey, "0", formatScore(now.Add(-hourWindow)))
	minuteCount := pipe.ZCard(ctx, minuteKey)
	hourCount := pipe.ZCard(ctx, hourKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if minuteCount.Val() >= int64(perMinute) || hourCount.Val() >= int64(perHour) {
		return false, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	score := float64(now.UnixNano()) / float64(time.Second)
	record := l.client.Pipeline()
	record.ZAdd(ctx, minuteKey, redis.Z{Score: score, Member: member})
	record.ZAdd(ctx, hourKey, redis.Z{Score: score, Member: member})
	record.Expire(ctx, minuteKey, minuteWindow)
	record.Expire(ctx, hourKey, hourWindow)
	if _, err := record.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisLimiter) Clear(ctx context.Context, sessionID string) {
	if err := l.client.Del(ctx, l.prefix+"rl:m:"+sessionID, l.prefix+"rl:h:"+sessionID).Err(); err != nil {
		log.Printf("ratelimit: redis clear failed: %v", err)
	}
	l.fallback.Clear(ctx, sessionID)
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', -1, 64)
}
