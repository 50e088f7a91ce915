package limiter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a limiter keeping counters in Redis so that every server instance
// sees the same lockouts. Counters expire with the window.
type Redis struct {
	rdb    *redis.Client
	prefix string
	policy Policy
}

// NewRedis constructs a Redis-backed limiter. Keys are namespaced by prefix.
func NewRedis(rdb *redis.Client, prefix string, p Policy) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, policy: p.withDefaults()}
}

func (l *Redis) key(username string, ipHash []byte) string {
	return fmt.Sprintf("%s:login:%s:%s", l.prefix, username, hex.EncodeToString(ipHash))
}

// Allow reports whether login is allowed and, if blocked, the remaining lockout.
func (l *Redis) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, l.key(username, ipHash)+":blocked").Result()
	if err != nil {
		return false, 0, err
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears the failure counter and any block.
func (l *Redis) Success(ctx context.Context, username string, ipHash []byte) error {
	k := l.key(username, ipHash)
	return l.rdb.Del(ctx, k+":fails", k+":blocked").Err()
}

// Failure counts a failed attempt within the window and blocks at the threshold.
func (l *Redis) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	k := l.key(username, ipHash)
	n, err := l.rdb.Incr(ctx, k+":fails").Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, k+":fails", l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, k+":blocked", 1, l.policy.BlockFor)
	pipe.Del(ctx, k+":fails")
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
