package remote

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned for steps sent faster than the configured rate.
var ErrRateLimited = errors.New("remote: rate limit exceeded")

// stepLimiter is a token bucket for the steps of one connection.
type stepLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// newStepLimiter returns nil when rate is zero, which allows everything.
func newStepLimiter(rate float64, burst int, now func() time.Time) *stepLimiter {
	if rate <= 0 {
		return nil
	}
	return &stepLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow takes one token if there is one.
func (l *stepLimiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// clientLimiter caps concurrent connections. A zero max allows any number.
type clientLimiter struct {
	mu      sync.Mutex
	current int
	max     int
}

func (c *clientLimiter) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.max > 0 && c.current >= c.max {
		return false
	}
	c.current++
	return true
}

func (c *clientLimiter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current > 0 {
		c.current--
	}
}
