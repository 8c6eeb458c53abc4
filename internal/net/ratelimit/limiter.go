package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate limits calls per target (a table, a backend, a remote host)
// using one token bucket per target
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter allowing rps calls per second with the given
// burst per target. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) limit() rate.Limit {
	if l.rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(l.rps)
}

// getLimiter returns or creates the bucket for target
func (l *Limiter) getLimiter(target string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[target]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[target]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit(), l.burst)
	l.limiters[target] = limiter
	return limiter
}

// Allow reports whether a call to target may proceed now
func (l *Limiter) Allow(target string) bool {
	return l.getLimiter(target).Allow()
}

// Wait blocks until a call to target is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, target string) error {
	return l.getLimiter(target).Wait(ctx)
}

// SetRPS updates the rate for every target
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rps
	for _, limiter := range l.limiters {
		limiter.SetLimit(l.limit())
	}
}

// Stats returns a snapshot per target
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]Stats, len(l.limiters))
	for target, limiter := range l.limiters {
		stats[target] = Stats{
			Target:          target,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.TokensAt(time.Now()),
		}
	}
	return stats
}

// Reset drops every bucket
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}

// Stats describes one target's bucket
type Stats struct {
	Target          string  `json:"target"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// IsThrottled reports whether the next call would have to wait
func (s Stats) IsThrottled() bool {
	return s.TokensAvailable < 1
}
