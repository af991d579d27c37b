package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// defaultPruneChance is the probability that a call sweeps expired windows.
const defaultPruneChance = 0.01

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps fixed windows in process memory. Expired windows are
// swept opportunistically on a random fraction of calls rather than on a
// timer; a stale window can only make limiting more generous.
type MemoryLimiter struct {
	mu          sync.Mutex
	policies    Policies
	windows     map[string]*window
	now         func() time.Time
	random      func() float64
	pruneChance float64
}

// NewMemoryLimiter builds a limiter for the given policies.
func NewMemoryLimiter(policies Policies) *MemoryLimiter {
	return &MemoryLimiter{
		policies:    policies,
		windows:     make(map[string]*window),
		now:         time.Now,
		random:      rand.Float64,
		pruneChance: defaultPruneChance,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, class Class, key string) (Result, error) {
	policy, ok := l.policies[class]
	if !ok {
		return unlimited(), nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.random() < l.pruneChance {
		l.prune(now)
	}
	id := class.String() + "|" + key
	w, ok := l.windows[id]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(policy.Window)}
		l.windows[id] = w
	}
	w.count++
	return result(policy, w.count, w.resetAt), nil
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) prune(now time.Time) {
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
		}
	}
}
