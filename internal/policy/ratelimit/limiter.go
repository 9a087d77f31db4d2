// Package ratelimit implements a per-client token bucket for shedding load.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-client rate limits keyed by client address.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Allow reports whether the client may proceed right now. The gateway sheds
// over-limit clients with 429 rather than queueing them; queueing would eat
// into the wake-wait budget.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
