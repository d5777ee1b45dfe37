// Package ratelimit implements a fixed-window per-principal request
// limiter. No corpus example implements a rate limiter, so the shape
// follows the corpus's general bias toward simple mutex-guarded in-process
// state (ledgerops keeps all mutable state in Postgres rather than
// reaching for Redis) instead of adopting golang.org/x/time/rate or a
// Redis-backed token bucket, neither of which appears anywhere in the
// example pack.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limiter enforces capacity requests per window for each principal
// (identified by API key ID). Windows are fixed, not sliding: a principal
// that exhausts its budget at the start of a window must wait for the
// window boundary, not a rolling duration — a fixed window rather than a
// token bucket.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	buckets  map[uuid.UUID]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// New returns a Limiter allowing capacity requests per window for each
// distinct principal.
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		buckets:  make(map[uuid.UUID]*bucket),
	}
}

// Result describes the outcome of an Allow check.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Allow records one request attempt for principal at now and reports
// whether it is within budget. A rejected attempt does not increment the
// window's count; the principal stays throttled until the window ends.
func (l *Limiter) Allow(principal uuid.UUID, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[principal]
	if !ok || now.Sub(b.windowStart) >= l.window {
		b = &bucket{windowStart: now}
		l.buckets[principal] = b
	}

	if b.count >= l.capacity {
		retryAfter := l.window - now.Sub(b.windowStart)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, RetryAfterSeconds: int(retryAfter.Seconds()) + 1}
	}

	b.count++
	return Result{Allowed: true}
}

// Reset drops all tracked buckets. Horizontal scale-out is explicitly out of scope, so there is no
// distributed eviction story here — just local GC.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[uuid.UUID]*bucket)
}

// Sweep removes buckets whose window started before olderThan, bounding
// memory growth for a long-running process with many distinct principals.
func (l *Limiter) Sweep(olderThan time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.windowStart.Before(olderThan) {
			delete(l.buckets, id)
		}
	}
}
