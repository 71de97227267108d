package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-client token buckets, keyed by whatever the caller
// uses to identify a client (here, the remote IP).
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter allows requestsPerHour sustained requests per client with the
// given burst.
func NewLimiter(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether the client may make a request now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}
