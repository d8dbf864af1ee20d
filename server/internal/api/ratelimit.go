package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per key (user id or client IP).
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()
	return b.limiter.Allow()
}

// StartCleanup drops buckets idle for longer than maxIdle every interval
// until ctx is done.
func (rl *rateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.sweep(now.Add(-maxIdle))
			}
		}
	}()
}

func (rl *rateLimiter) sweep(before time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(before) {
			delete(rl.buckets, key)
		}
	}
}

// limitBy rejects requests whose key has run out of tokens. Requests
// without a key pass through.
func limitBy(rl *rateLimiter, key func(*http.Request) string, msg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if k := key(r); k != "" && !rl.allow(k) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loginIPRateLimitMiddleware throttles credential attempts per client IP.
func loginIPRateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return limitBy(rl, clientIP, "too many attempts")
}

// rateLimitMiddleware throttles authenticated callers per user.
func rateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return limitBy(rl, func(r *http.Request) string {
		if identity := getIdentityFromContext(r.Context()); identity != nil {
			return identity.UserID
		}
		return ""
	}, "rate limit exceeded")
}
