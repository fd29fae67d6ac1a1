package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter enforces a per-host request rate across all jobs, so a batch
// of URLs against one origin cannot hammer it no matter how high the job's
// concurrency limit is.
type hostLimiter struct {
	mu       sync.Mutex
	qps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newHostLimiter returns nil when qps is not positive, disabling the limit.
func newHostLimiter(qps float64) *hostLimiter {
	if qps <= 0 {
		return nil
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		qps:      rate.Limit(qps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's limiter grants a token or ctx ends. Safe to
// call on a nil limiter.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.qps, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}
