package handler

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Stale entries are cleaned every 5 minutes.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*ipLimiter)

	// Background cleanup goroutine.
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for ip, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// redisAllowScript increments the fixed-window counter for a key and sets
// the window expiry on first hit. Single round trip, atomic on the server.
var redisAllowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisRateLimiter returns a Gin middleware backed by a shared Redis
// fixed-window counter. Unlike RateLimiter it enforces one limit across
// every replica, so it is the right choice for multi-instance deployments.
// On Redis errors the request is allowed through: losing rate limiting
// is better than losing the API.
func RedisRateLimiter(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if window <= 0 {
		window = time.Second
	}

	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()

		result, err := redisAllowScript.Run(c.Request.Context(), client, []string{key}, window.Milliseconds()).Result()
		if err != nil {
			logger.Warn("rate limit check failed (failing open)", zap.Error(err))
			c.Next()
			return
		}

		values, ok := result.([]any)
		if !ok || len(values) < 2 {
			logger.Warn("unexpected rate limit script response")
			c.Next()
			return
		}
		current, _ := values[0].(int64)
		ttlMillis, _ := values[1].(int64)

		if current > int64(limit) {
			retryAfter := time.Duration(ttlMillis) * time.Millisecond
			if retryAfter <= 0 {
				retryAfter = window
			}
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
