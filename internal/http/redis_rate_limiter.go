package httpx

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "dropit:ratelimit:"
	redisCallTimeout = 250 * time.Millisecond
)

// redisRateLimiter shares fixed windows across registry replicas. Counter and
// expiry are set in one pipeline round trip; a Redis outage fails open so the
// cache never becomes a traffic gate.
type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter connects to Redis and verifies it is reachable.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger}, nil
}

func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisCallTimeout)
	defer cancel()

	redisKey := redisKeyPrefix + key
	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX keeps the expiry anchored to the first hit of the window.
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.failOpen("pipeline", err)
		return rateDecision{allowed: true}
	}

	count := int(incr.Val())
	windowLeft := ttl.Val()
	if windowLeft <= 0 {
		windowLeft = window
	}
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(windowLeft),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) failOpen(op string, err error) {
	if rl.logger != nil {
		rl.logger.Error("redis rate limiter unavailable", "op", op, "error", err)
	}
}
