package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// RateLimiter is a fixed-window per-thread submission limiter backed by
// redis, so the limit holds across replicas sharing the store.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRateLimiter creates a limiter allowing limit submissions per thread
// per minute.
func NewRateLimiter(client *redis.Client, limit int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: time.Minute,
		logger: logger,
	}
}

func rateLimitKey(threadID string) string {
	return fmt.Sprintf("ratelimit:thread:%s", threadID)
}

// Allow counts one submission against the thread's window. remaining is the
// budget left in the current window; retryAfter is meaningful only when the
// submission was denied.
func (l *RateLimiter) Allow(ctx context.Context, threadID string) (allowed bool, remaining int, retryAfter time.Duration, err error) {
	key := rateLimitKey(threadID)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("rate limit check for thread %s: %w", threadID, err)
	}

	used := int(count.Val())
	remaining = l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	if used > l.limit {
		return false, 0, ttl.Val(), nil
	}
	return true, remaining, 0, nil
}

// allowSubmission applies the rate limit and writes the limit headers. When
// the limiter itself fails the submission is allowed; losing rate limiting
// is better than refusing all traffic.
func (s *Server) allowSubmission(w http.ResponseWriter, r *http.Request, threadID string) bool {
	if s.limiter == nil {
		return true
	}

	allowed, remaining, retryAfter, err := s.limiter.Allow(r.Context(), threadID)
	if err != nil {
		s.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if allowed {
		return true
	}

	metrics.RateLimitRejections.Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
	s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}
