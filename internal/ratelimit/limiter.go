package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"
)

// Limiter backends reported to metrics
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds rate limiter configuration
type Config struct {
	PerMinute       int           // sustained requests per minute per key
	Burst           int           // extra requests allowed in a spike
	CleanupInterval time.Duration // idle in-memory limiters are dropped after this long
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		PerMinute:       60,
		Burst:           10,
		CleanupInterval: 10 * time.Minute,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Backend    string
}

// Metrics receives rejected requests per backend
type Metrics interface {
	IncrementRateLimitBlock(backend string)
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	config       Config
	metrics      Metrics
	logger       *slog.Logger

	fallbackMutex    sync.Mutex
	fallbackLimiters map[string]*fallbackEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. A nil or disabled Redis client selects
// the in-memory limiter for every request.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics Metrics, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PerMinute <= 0 {
		config.PerMinute = DefaultConfig().PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		logger:           logger,
		fallbackLimiters: make(map[string]*fallbackEntry),
		stop:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		logger.Info("Redis rate limiter initialized", "per_minute", config.PerMinute, "burst", config.Burst)
	} else {
		logger.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupFallbackLimiters()

	return rl
}

// Allow checks one request against key's budget. Redis errors fall back to the
// in-memory limiter and are never returned.
func (rl *RateLimiter) Allow(ctx context.Context, key string) *Result {
	var result *Result
	if rl.redisLimiter != nil {
		res, err := rl.allowRedis(ctx, key)
		if err != nil {
			rl.logger.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
			result = rl.allowFallback(key)
		} else {
			result = res
		}
	} else {
		result = rl.allowFallback(key)
	}

	if !result.Allowed && rl.metrics != nil {
		rl.metrics.IncrementRateLimitBlock(result.Backend)
	}
	return result
}

// allowRedis performs GCRA rate limiting in Redis
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (*Result, error) {
	limit := redis_rate.Limit{
		Rate:   rl.config.PerMinute,
		Burst:  rl.config.Burst,
		Period: time.Minute,
	}

	res, err := rl.redisLimiter.Allow(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
		Backend:    BackendRedis,
	}, nil
}

// allowFallback performs rate limiting using an in-memory token bucket per key
func (rl *RateLimiter) allowFallback(key string) *Result {
	now := time.Now()

	rl.fallbackMutex.Lock()
	entry, exists := rl.fallbackLimiters[key]
	if !exists {
		every := rate.Limit(float64(rl.config.PerMinute) / time.Minute.Seconds())
		entry = &fallbackEntry{limiter: rate.NewLimiter(every, rl.config.Burst)}
		rl.fallbackLimiters[key] = entry
	}
	entry.lastSeen = now
	rl.fallbackMutex.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     rl.config.PerMinute,
		Remaining: remaining,
		Backend:   BackendMemory,
	}

	// Time until one full token is available again
	refill := time.Duration((1 - tokens) / float64(entry.limiter.Limit()) * float64(time.Second))
	if refill < 0 {
		refill = 0
	}
	result.ResetAt = now.Add(refill)
	if !allowed {
		result.RetryAfter = refill
	}

	return result
}

// cleanupFallbackLimiters periodically removes idle fallback limiters
func (rl *RateLimiter) cleanupFallbackLimiters() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(time.Now().Add(-rl.config.CleanupInterval))
		}
	}
}

func (rl *RateLimiter) evictIdle(before time.Time) int {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	evicted := 0
	for key, entry := range rl.fallbackLimiters {
		if entry.lastSeen.Before(before) {
			delete(rl.fallbackLimiters, key)
			evicted++
		}
	}
	if evicted > 0 {
		rl.logger.Debug("Evicted idle fallback rate limiters", "count", evicted)
	}
	return evicted
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	return map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"per_minute":        rl.config.PerMinute,
		"burst":             rl.config.Burst,
		"fallback_limiters": fallbackCount,
		"redis_pool":        rl.redisClient.GetPoolStats(),
	}
}
