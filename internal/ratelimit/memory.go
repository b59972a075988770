package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter tracks request timestamps per key within a sliding window.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether identifier is still within rule and, if so, records
// the request. It never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-rule.Window)

	timestamps := l.entries[key]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rule.Limit {
		l.entries[key] = valid
		return false, nil
	}
	l.entries[key] = append(valid, now)
	return true, nil
}

// Forget drops the history for identifier under rule, e.g. when its
// connection closes.
func (l *MemoryLimiter) Forget(identifier string, rule Rule) {
	l.mu.Lock()
	delete(l.entries, rule.Key+identifier)
	l.mu.Unlock()
}
