package server

import (
	"sync"
	"time"
)

// JobRateLimiter bounds how many print jobs one client address may submit
// in a sliding one-minute window.
type JobRateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	maxPerMin int
	now       func() time.Time
}

// NewJobRateLimiter creates a limiter allowing maxPerMinute jobs per client.
func NewJobRateLimiter(maxPerMinute int) *JobRateLimiter {
	return &JobRateLimiter{
		attempts:  make(map[string][]time.Time),
		maxPerMin: maxPerMinute,
		now:       time.Now,
	}
}

// Allow records an attempt and reports whether it is within the limit.
// Addresses with no recent attempts are forgotten.
func (rl *JobRateLimiter) Allow(clientAddr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)

	recent := rl.attempts[clientAddr][:0]
	for _, t := range rl.attempts[clientAddr] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxPerMin {
		rl.attempts[clientAddr] = recent
		return false
	}
	rl.attempts[clientAddr] = append(recent, now)

	for addr, times := range rl.attempts {
		if len(times) > 0 && !times[len(times)-1].After(cutoff) {
			delete(rl.attempts, addr)
		}
	}
	return true
}
