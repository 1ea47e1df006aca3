package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter keeps one token bucket per key. All keys share one burst and
// refill rate.
type Limiter struct {
	burst int
	every rate.Limit
	now   func() time.Time

	mu sync.Mutex
	m  map[string]*entry
}

func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		burst: max(1, int(capacity)),
		every: rate.Limit(refillPerSec),
		now:   time.Now,
		m:     make(map[string]*entry),
	}
}

// WithClock replaces time.Now; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.every, l.burst)}
		l.m[key] = e
	}
	e.last = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// Forget drops the bucket of key, e.g. when its session closes.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

// Sweep drops buckets not used for longer than idle.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.m {
		if e.last.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
