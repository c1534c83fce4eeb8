package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader is the header for idempotency key.
	IdempotencyKeyHeader = "Idempotency-Key"
	// idempotencyKeyPrefix is the Redis key prefix.
	idempotencyKeyPrefix = "idempotency:"
	// defaultIdempotencyTTL is the default TTL for idempotency keys.
	defaultIdempotencyTTL = 24 * time.Hour
)

// IdempotencyConfig holds idempotency middleware configuration.
type IdempotencyConfig struct {
	// TTL is the time to live for idempotency keys.
	TTL time.Duration
	// Methods are the HTTP methods to apply idempotency check.
	// Default: POST, PUT, PATCH
	Methods []string
}

// DefaultIdempotencyConfig returns the default idempotency configuration.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     defaultIdempotencyTTL,
		Methods: []string{"POST", "PUT", "PATCH"},
	}
}

// idempotencyResponse stores the cached response.
type idempotencyResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// idempotencyResponseWriter wraps gin.ResponseWriter to capture the response.
type idempotencyResponseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency returns a middleware that ensures request idempotency.
// Requires Redis for storing idempotency keys and responses. Payment
// creation and refund requests carry an Idempotency-Key so that client
// retries never open a second payment for the same order.
func Idempotency(redis goredis.UniversalClient, cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL == 0 {
		cfg.TTL = defaultIdempotencyTTL
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{"POST", "PUT", "PATCH"}
	}

	methodSet := make(map[string]bool)
	for _, m := range cfg.Methods {
		methodSet[m] = true
	}

	return func(c *gin.Context) {
		if redis == nil || !methodSet[c.Request.Method] {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := generateIdempotencyKey(c, idempotencyKey)

		cachedResp, err := getCachedResponse(ctx, redis, cacheKey)
		if err == nil && cachedResp != nil {
			for k, v := range cachedResp.Headers {
				c.Header(k, v)
			}
			c.Data(cachedResp.StatusCode, c.Writer.Header().Get("Content-Type"), cachedResp.Body)
			c.Abort()
			return
		}

		// Lock out concurrent requests with the same key
		lockKey := cacheKey + ":lock"
		locked, err := redis.SetNX(ctx, lockKey, "1", 30*time.Second).Result()
		if err != nil {
			c.Next()
			return
		}

		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{
					"code":    "REQUEST_IN_PROGRESS",
					"message": "A request with this idempotency key is already being processed",
				},
			})
			return
		}

		defer redis.Del(ctx, lockKey)

		respWriter := &idempotencyResponseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = respWriter

		c.Next()

		if c.Writer.Status() >= 200 && c.Writer.Status() < 500 {
			headers := make(map[string]string)
			for k := range c.Writer.Header() {
				headers[k] = c.Writer.Header().Get(k)
			}

			resp := &idempotencyResponse{
				StatusCode: c.Writer.Status(),
				Headers:    headers,
				Body:       respWriter.body.Bytes(),
			}

			cacheResponse(ctx, redis, cacheKey, resp, cfg.TTL)
		}
	}
}

// generateIdempotencyKey generates a cache key from the request.
func generateIdempotencyKey(c *gin.Context, idempotencyKey string) string {
	hash := sha256.Sum256([]byte(c.Request.Method + ":" + c.FullPath() + ":" + idempotencyKey))
	return idempotencyKeyPrefix + hex.EncodeToString(hash[:])
}

// getCachedResponse retrieves a cached response from Redis.
func getCachedResponse(ctx context.Context, redis goredis.UniversalClient, key string) (*idempotencyResponse, error) {
	data, err := redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var resp idempotencyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// cacheResponse stores a response in Redis.
func cacheResponse(ctx context.Context, redis goredis.UniversalClient, key string, resp *idempotencyResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return redis.Set(ctx, key, data, ttl).Err()
}
