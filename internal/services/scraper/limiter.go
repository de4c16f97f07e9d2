package scraper

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter enforces per-host politeness across every adapter. Hosts
// share nothing; a slow board never throttles an unrelated careers page.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHostLimiter creates a limiter granting rps requests per second with
// the given burst to each distinct host. Non-positive inputs fall back to
// one request per second with a burst of one.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until the host's bucket grants a token or ctx is done.
// An empty host waits on nothing.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if host == "" {
		return nil
	}
	return l.limiterFor(host).Wait(ctx)
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}
