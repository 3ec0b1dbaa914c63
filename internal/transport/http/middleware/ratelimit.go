package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepEvery = 5 * time.Minute
	staleAfter = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per caller. Authenticated requests are keyed
// by recipient id, anonymous ones by client IP. Idle buckets are swept on use.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	r         rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows r requests/second per caller with bursts up to burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*bucket),
		r:         r,
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) > staleAfter {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}
	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.buckets[key] = &bucket{limiter: l, lastSeen: now}
	return l
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// callerKey identifies who a request is charged to.
func callerKey(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.UserID != "" {
		return "user:" + claims.UserID
	}
	return "ip:" + realIP(r)
}

// realIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// connection address without its port.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xr := r.Header.Get("X-Real-Ip"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit rejects callers that exhausted their bucket with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(callerKey(r)).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
