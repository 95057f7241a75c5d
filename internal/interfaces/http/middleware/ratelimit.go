package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitResult is the outcome of one rate limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter decides whether a request identified by key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

// maxLocalKeys triggers a sweep of idle keys
const maxLocalKeys = 10000

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter is a per-process token bucket per key
type LocalRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	perMinute int
	every     rate.Limit
	now       func() time.Time
}

// NewLocalRateLimiter allows perMinute requests per key with a burst of the same size
func NewLocalRateLimiter(perMinute int) *LocalRateLimiter {
	return &LocalRateLimiter{
		entries:   make(map[string]*localEntry),
		perMinute: perMinute,
		every:     rate.Every(time.Minute / time.Duration(perMinute)),
		now:       time.Now,
	}
}

// Allow implements RateLimiter
func (l *LocalRateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLocalKeys {
			l.sweep(now)
		}
		e = &localEntry{limiter: rate.NewLimiter(l.every, l.perMinute)}
		l.entries[key] = e
	}
	e.lastSeen = now

	res := RateLimitResult{Limit: l.perMinute}
	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res, nil
	}
	res.Allowed = true
	res.Remaining = int(math.Max(0, math.Floor(e.limiter.TokensAt(now))))
	return res, nil
}

// sweep drops keys whose bucket has refilled completely
func (l *LocalRateLimiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > time.Minute {
			delete(l.entries, k)
		}
	}
}

// RedisRateLimiter shares limits across instances through Redis (GCRA)
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter allows perMinute requests per key across all instances
func NewRedisRateLimiter(rdb *redis.Client, prefix string, perMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.PerMinute(perMinute),
		prefix:  prefix,
	}
}

// Allow implements RateLimiter
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	res, err := r.limiter.Allow(ctx, r.prefix+key, r.limit)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	return RateLimitResult{
		Allowed:    res.Allowed > 0,
		Limit:      r.limit.Burst,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// ClientIPKey keys limits by client address
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit returns a rate limiting middleware. Limiter failures let the request through.
func RateLimit(limiter RateLimiter, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), keyFunc(c))
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				GetRequestID(c),
			))
			return
		}
		c.Next()
	}
}
