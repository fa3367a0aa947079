package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// NewRateLimiter allows rps requests per second per client with the given
// burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether client may make a request now.
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
	}
	c.last = l.now()
	l.mu.Unlock()
	return c.limiter.Allow()
}

// Sweep forgets clients idle for longer than maxIdle and returns how many
// were dropped.
func (l *RateLimiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	dropped := 0
	for key, c := range l.clients {
		if c.last.Before(cutoff) {
			delete(l.clients, key)
			dropped++
		}
	}
	return dropped
}

// Middleware limits requests for which match returns true. Others pass.
func (l *RateLimiter) Middleware(match func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if match != nil && !match(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(clientAddr(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"code":      "RATE_LIMITED",
					"message":   "too many requests, please retry later",
					"retryable": true,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MutatingRequests matches every method but GET, HEAD and OPTIONS.
func MutatingRequests(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
