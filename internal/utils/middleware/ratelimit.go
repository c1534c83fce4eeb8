package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// RateLimitRemaining is the header for remaining requests.
	RateLimitRemaining = "X-RateLimit-Remaining"
	// RateLimitLimit is the header for the limit.
	RateLimitLimit = "X-RateLimit-Limit"
	// RetryAfter is the header for retry time.
	RetryAfter = "Retry-After"

	rateLimitKeyPrefix = "ratelimit:"
)

// RateLimitConfig holds rate limit configuration.
type RateLimitConfig struct {
	// Limit is the maximum number of requests per window.
	Limit int
	// Window is the time window.
	Window time.Duration
	// KeyFunc generates the rate limit key from request.
	// Default uses client IP.
	KeyFunc func(*gin.Context) string
}

// RateLimit returns a middleware that limits requests with a fixed window
// counter in Redis. On Redis errors the request is allowed through.
func RateLimit(redis goredis.UniversalClient, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string {
			return "ip:" + c.ClientIP()
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		if redis == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		window := time.Now().Unix() / int64(cfg.Window.Seconds())
		key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, cfg.KeyFunc(c), window)

		count, err := redis.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			redis.Expire(ctx, key, cfg.Window)
		}

		remaining := cfg.Limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header(RateLimitLimit, strconv.Itoa(cfg.Limit))
		c.Header(RateLimitRemaining, strconv.Itoa(remaining))

		if int(count) > cfg.Limit {
			c.Header(RetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests, please try again later",
				},
			})
			return
		}

		c.Next()
	}
}

// RateLimitByEndpoint returns a rate limiter keyed by endpoint and IP.
// Applied to webhook routes so a misbehaving gateway retry storm cannot
// starve the rest of the API.
func RateLimitByEndpoint(redis goredis.UniversalClient, limit int, window time.Duration) gin.HandlerFunc {
	return RateLimit(redis, RateLimitConfig{
		Limit:  limit,
		Window: window,
		KeyFunc: func(c *gin.Context) string {
			return fmt.Sprintf("endpoint:%s:%s:%s", c.Request.Method, c.FullPath(), c.ClientIP())
		},
	})
}
