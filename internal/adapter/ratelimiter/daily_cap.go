// Package ratelimiter implements the per-user daily send cap as an atomic
// Redis Lua script: a counter keyed "{channel}.limit.{uid}.{yyyy-mm-dd}"
// with a 24h TTL set on first increment.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Limiter reserves daily send capacity per user/channel/day.
type Limiter struct {
	rdb    *redis.Client
	script *redis.Script
	log    *slog.Logger
}

// New constructs a Limiter over an existing Redis client.
func New(rdb *redis.Client, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{rdb: rdb, script: redis.NewScript(luaDailyCapScript), log: log}
}

// luaDailyCapScript atomically increments a daily counter, setting a 24h
// expiry only on its first write, and reports whether the increment stayed
// within max. On exceeding max it decrements back so the key keeps
// reflecting actual accepted sends rather than every attempt.
const luaDailyCapScript = `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("EXPIRE", key, ttl)
end

if count > max then
  redis.call("DECR", key)
  return 0
end
return 1
`

// Reserve reports whether sending to channel for user on day (format
// "2006-01-02") stays within max. max<=0 means unlimited. On a Redis error
// this fails open and allows the send: a missed daily cap is a smaller harm
// than a notification gap while the limiter's store is unreachable.
func (l *Limiter) Reserve(ctx context.Context, channel, userID, day string, max int) (bool, error) {
	if max <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("%s.limit.%s.%s", channel, userID, day)
	res, err := l.script.Run(ctx, l.rdb, []string{key}, max, 24*60*60).Result()
	if err != nil {
		l.log.Error("rate limiter script error, failing open", slog.String("key", key), slog.Any("error", err))
		return true, nil
	}
	n, ok := res.(int64)
	if !ok {
		return true, nil
	}
	return n == 1, nil
}
