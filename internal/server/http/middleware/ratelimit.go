// Package middleware provides HTTP middleware for the filesensor API.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/sync"
)

// RateLimiter defaults. Only the mutating endpoints are limited, so the
// budget is small.
const (
	DefaultMaxRequests = 10
	DefaultWindow      = time.Minute
)

// RateLimiter implements a sliding window rate limiter with per-key limiting.
// Stale buckets are pruned lazily on Allow.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	clock       clock.Clock

	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastPrune time.Time
}

// RateLimiterOption is a functional option for configuring RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxRequests sets the maximum number of requests per window.
func WithMaxRequests(n int) RateLimiterOption {
	return func(r *RateLimiter) {
		if n > 0 {
			r.maxRequests = n
		}
	}
}

// WithWindow sets the time window for rate limiting.
func WithWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) RateLimiterOption {
	return func(r *RateLimiter) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewRateLimiter creates a new RateLimiter with the given options.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		maxRequests: DefaultMaxRequests,
		window:      DefaultWindow,
		clock:       clock.Real(),
		buckets:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastPrune = r.clock.Now()
	return r
}

// Allow records a request for key and reports whether it is within the
// limit. It also returns the requests left in the current window.
func (r *RateLimiter) Allow(key string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-r.window)

	if now.Sub(r.lastPrune) > 2*r.window {
		r.pruneLocked(cutoff)
		r.lastPrune = now
	}

	valid := live(r.buckets[key], cutoff)
	if len(valid) >= r.maxRequests {
		r.buckets[key] = valid
		return false, 0
	}

	valid = append(valid, now)
	r.buckets[key] = valid
	return true, r.maxRequests - len(valid)
}

// Buckets returns the number of keys being tracked.
func (r *RateLimiter) Buckets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

func (r *RateLimiter) pruneLocked(cutoff time.Time) {
	for key, ts := range r.buckets {
		if len(live(ts, cutoff)) == 0 {
			delete(r.buckets, key)
		}
	}
}

func live(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// ClientIP returns the remote address without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns middleware that rejects requests over the limit with
// 429, keyed by client IP.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining := limiter.Allow(ClientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
