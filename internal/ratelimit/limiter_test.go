package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockCounter struct {
	mu     sync.Mutex
	blocks map[string]int
}

func (b *blockCounter) IncrementRateLimitBlock(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocks == nil {
		b.blocks = make(map[string]int)
	}
	b.blocks[backend]++
}

func (b *blockCounter) count(backend string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocks[backend]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.True(t, client.IsEnabled())
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRateLimiterFallbackMode(t *testing.T) {
	metrics := &blockCounter{}
	limiter := NewRateLimiter(&RedisClient{enabled: false}, Config{PerMinute: 60, Burst: 5}, metrics, quietLogger())
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		result := limiter.Allow(ctx, "test:user:123")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 60, result.Limit)
		assert.Equal(t, BackendMemory, result.Backend)
	}

	result := limiter.Allow(ctx, "test:user:123")
	assert.False(t, result.Allowed, "6th request should be blocked")
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, time.Second)
	assert.Equal(t, 1, metrics.count(BackendMemory))

	other := limiter.Allow(ctx, "test:user:456")
	assert.True(t, other.Allowed, "keys have independent budgets")
}

func TestRateLimiterNilRedisClient(t *testing.T) {
	limiter := NewRateLimiter(nil, Config{}, nil, quietLogger())
	defer limiter.Close()

	result := limiter.Allow(context.Background(), "k")
	assert.True(t, result.Allowed)
	assert.Equal(t, DefaultConfig().PerMinute, result.Limit)
	assert.Equal(t, false, limiter.GetStats()["redis_enabled"])
}

func TestRateLimiterRedis(t *testing.T) {
	_, client := newMiniredisClient(t)
	metrics := &blockCounter{}
	limiter := NewRateLimiter(client, Config{PerMinute: 60, Burst: 3}, metrics, quietLogger())
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result := limiter.Allow(ctx, "ratelimit:test:ip:10.0.0.1")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, BackendRedis, result.Backend)
	}

	result := limiter.Allow(ctx, "ratelimit:test:ip:10.0.0.1")
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, metrics.count(BackendRedis))
}

func TestRateLimiterRedisOutageFallsBack(t *testing.T) {
	mr, client := newMiniredisClient(t)
	limiter := NewRateLimiter(client, Config{PerMinute: 60, Burst: 2}, nil, quietLogger())
	defer limiter.Close()

	mr.Close()

	result := limiter.Allow(context.Background(), "k")
	assert.True(t, result.Allowed)
	assert.Equal(t, BackendMemory, result.Backend)
}

func TestNewRedisClient(t *testing.T) {
	disabled, err := NewRedisClient(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled())
	assert.Error(t, disabled.HealthCheck(context.Background()))
	assert.Equal(t, false, disabled.GetPoolStats()["enabled"])

	unreachable, err := NewRedisClient(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.False(t, unreachable.IsEnabled())

	_, healthy := newMiniredisClient(t)
	assert.NoError(t, healthy.HealthCheck(context.Background()))
	assert.Equal(t, true, healthy.GetPoolStats()["enabled"])
}

func TestEvictIdle(t *testing.T) {
	limiter := NewRateLimiter(nil, Config{PerMinute: 60, Burst: 1}, nil, quietLogger())
	defer limiter.Close()

	limiter.Allow(context.Background(), "a")
	limiter.Allow(context.Background(), "b")

	assert.Equal(t, 0, limiter.evictIdle(time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, limiter.evictIdle(time.Now().Add(time.Second)))
	assert.Equal(t, 0, limiter.GetStats()["fallback_limiters"])
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(nil, Config{PerMinute: 60, Burst: 2}, nil, quietLogger())
	defer limiter.Close()

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set("user_id", user)
		}
		c.Next()
	})
	router.Use(limiter.Middleware("api"))
	router.POST("/api/predict", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/predict", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("").Code)
	assert.Equal(t, http.StatusOK, send("").Code)

	blocked := send("")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "1", blocked.Header().Get("Retry-After"))
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, blocked.Body.String(), "rate_limit")

	// Authenticated callers are keyed by user, not IP
	assert.Equal(t, http.StatusOK, send("alice").Code)
}
