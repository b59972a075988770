// Package ratelimit throttles chat traffic per session and new connections
// per origin address. The Redis-backed limiter uses INCR + EXPIRE fixed
// windows so several relays can share one budget; the in-memory limiter
// keeps a sliding window of timestamps and is used when no Redis is
// configured.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Name   string        // metrics label
	Key    string        // key prefix (e.g., "rl:msg:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rules.
var (
	// RuleMessage allows 5 room messages per 10 seconds per session.
	RuleMessage = Rule{Name: "message", Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleDirect allows 5 direct messages per 10 seconds per session.
	RuleDirect = Rule{Name: "direct", Key: "rl:dm:", Limit: 5, Window: 10 * time.Second}

	// RuleConnect allows 20 WebSocket connections per minute per address.
	RuleConnect = Rule{Name: "connect", Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}
)

// Checker decides whether one more request fits a rule. Implementations fail
// open: on a backend error they allow the request and return the error.
type Checker interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// RedisLimiter keeps one fixed-window counter per identifier and rule in
// Redis, so every relay sharing the server also shares the budget.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow counts one request. The first request of a window sets the key's
// TTL, and the request is refused once the count passes the limit.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] INCR %s: %v (allowing)", key, err)
		return true, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			// A counter without a TTL would never reset.
			l.client.Del(ctx, key)
			log.Printf("[ratelimit] EXPIRE %s: %v (allowing)", key, err)
			return true, err
		}
	}
	return count <= int64(rule.Limit), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
