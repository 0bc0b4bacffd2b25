package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// slidingWindow implements sliding window rate limiting for one caller
type slidingWindow struct {
	mu                sync.Mutex
	requestsPerMinute int
	requests          []time.Time
}

func newSlidingWindow(requestsPerMinute int) *slidingWindow {
	return &slidingWindow{
		requestsPerMinute: requestsPerMinute,
		requests:          make([]time.Time, 0),
	}
}

// allow records a request if it fits the window and reports the decision
func (w *slidingWindow) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()

	// Clean up old requests (older than 1 minute)
	cutoff := now.Add(-time.Minute)
	validRequests := make([]time.Time, 0, len(w.requests))
	for _, reqTime := range w.requests {
		if reqTime.After(cutoff) {
			validRequests = append(validRequests, reqTime)
		}
	}
	w.requests = validRequests

	if len(w.requests) >= w.requestsPerMinute {
		return false
	}

	w.requests = append(w.requests, now)
	return true
}

// RateLimiter applies per-caller sliding window limits keyed by remote IP
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	windows           map[string]*slidingWindow
}

// NewRateLimiter creates a rate limiter with the given per-minute budget
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		windows:           make(map[string]*slidingWindow),
	}
}

// Allow reports whether the caller identified by key may proceed
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	window, ok := l.windows[key]
	if !ok {
		window = newSlidingWindow(l.requestsPerMinute)
		l.windows[key] = window
	}
	l.mu.Unlock()

	return window.allow()
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		if !l.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
