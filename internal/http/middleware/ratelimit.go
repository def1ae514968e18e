package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter throttles coaching requests with a token bucket per caller.
// Coaching routes sit behind UserJWT, so the bucket key is the authenticated
// user id; requests without claims fall back to the client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing rate requests/sec with the
// given burst size per caller.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
	// Periodically evict stale entries to prevent memory growth.
	go rl.cleanup()
	return rl
}

// Allow draws one token from the caller's bucket, reporting whether the
// request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastSeen: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// callerKey prefers the JWT subject over the transport address.
func callerKey(r *http.Request) string {
	if claims, ok := UserClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "user:" + claims.Subject
	}
	ip := r.RemoteAddr
	// X-Real-Ip is set by chi's RealIP middleware.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		ip = xri
	}
	return "ip:" + ip
}

// RateLimit returns an HTTP middleware that rejects callers exceeding the
// configured rate with 429 Too Many Requests and a Retry-After hint.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	retryAfter := "1"
	if rate > 0 && rate < 1 {
		retryAfter = strconv.Itoa(int(1/rate) + 1)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(callerKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
