package resilience

import (
	"sync"
	"time"
)

// LimiterOpts configures a Limiter. Rate is tokens added per second and
// Burst the bucket capacity.
type LimiterOpts struct {
	Rate  float64
	Burst int
}

// Limiter is a non-blocking token bucket, used to gate inbound HTTP
// requests. Callers needing blocking admission use golang.org/x/time/rate.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time // injected in tests
}

// NewLimiter creates a full bucket. Burst below 1 is raised to 1.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		rate:   opts.Rate,
		burst:  float64(opts.Burst),
		tokens: float64(opts.Burst),
		now:    time.Now,
	}
}

// Allow consumes a token when one is available and reports whether the
// caller may proceed.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	if !l.last.IsZero() {
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
	}
	l.last = now
}
