package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter for one client
type Limiter struct {
	limiter *rate.Limiter
	name    string
	mu      sync.Mutex
	seen    time.Time
}

// NewLimiter creates a new rate limiter
// perMinute specifies the number of requests allowed per minute
func NewLimiter(name string, perMinute, burst int) *Limiter {
	// Convert per-minute rate to per-second
	rps := float64(perMinute) / 60.0
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// Allow reports whether an event may happen now
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// RetryAfter returns how long until the next request would be allowed
func (l *Limiter) RetryAfter() time.Duration {
	r := l.limiter.Reserve()
	defer r.Cancel()
	if !r.OK() {
		return time.Minute
	}
	return r.Delay()
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}

func (l *Limiter) touch(now time.Time) {
	l.mu.Lock()
	l.seen = now
	l.mu.Unlock()
}

func (l *Limiter) lastSeen() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen
}

// ClientLimiter keeps one limiter per client key, created on first use
type ClientLimiter struct {
	perMinute int
	burst     int
	idle      time.Duration
	limiters  map[string]*Limiter
	mu        sync.RWMutex
	now       func() time.Time
}

// NewClientLimiter creates a keyed limiter. Clients idle for longer than
// idle are dropped by Prune.
func NewClientLimiter(perMinute, burst int, idle time.Duration) *ClientLimiter {
	return &ClientLimiter{
		perMinute: perMinute,
		burst:     burst,
		idle:      idle,
		limiters:  make(map[string]*Limiter),
		now:       time.Now,
	}
}

// Get returns the limiter for a client, creating it if needed
func (c *ClientLimiter) Get(client string) *Limiter {
	c.mu.RLock()
	l, ok := c.limiters[client]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		if l, ok = c.limiters[client]; !ok {
			l = NewLimiter(client, c.perMinute, c.burst)
			c.limiters[client] = l
		}
		c.mu.Unlock()
	}

	l.touch(c.now())
	return l
}

// Allow reports whether the client may make a request now
func (c *ClientLimiter) Allow(client string) bool {
	return c.Get(client).Allow()
}

// Prune drops limiters of idle clients and returns how many were removed
func (c *ClientLimiter) Prune() int {
	cutoff := c.now().Add(-c.idle)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, l := range c.limiters {
		if l.lastSeen().Before(cutoff) {
			delete(c.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (c *ClientLimiter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.limiters)
}
