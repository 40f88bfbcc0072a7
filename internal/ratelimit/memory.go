// ABOUTME: Thread-safe rolling-window limiter keyed by string, held in process memory.
// ABOUTME: Used by the session provider on-device and by a single gateway instance.

package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// Limiter admits or rejects one attempt for a key.
type Limiter interface {
	// Allow records an attempt for key. It returns a *record.RateLimitedError
	// when the key already used its budget within the window. Rejected
	// attempts are not recorded.
	Allow(ctx context.Context, key string) error
}

// Defaults for login attempts.
const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// keyEntry stores the attempt times and list element for a tracked key.
type keyEntry struct {
	attempts []time.Time
	element  *list.Element
}

// MemoryLimiter keeps a sliding window of attempt times per key. The number
// of tracked keys is capped; the least recently active key is evicted first.
type MemoryLimiter struct {
	mu      sync.Mutex
	keys    map[string]*keyEntry
	order   *list.List // least recently active at front
	limit   int
	window  time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// WithMaxKeys caps the number of keys tracked at once.
func WithMaxKeys(n int) MemoryOption {
	return func(l *MemoryLimiter) { l.maxKeys = n }
}

// NewMemory creates a limiter allowing limit attempts per window.
// A background goroutine periodically drops idle keys.
func NewMemory(limit int, window time.Duration, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		keys:    make(map[string]*keyEntry),
		order:   list.New(),
		limit:   limit,
		window:  window,
		maxKeys: 100_000,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanup()
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.keys[key]
	if ok {
		entry.attempts = l.prune(entry.attempts, now)
		if len(entry.attempts) >= l.limit {
			return &record.RateLimitedError{RetryAfter: entry.attempts[0].Add(l.window).Sub(now)}
		}
		entry.attempts = append(entry.attempts, now)
		l.order.MoveToBack(entry.element)
		return nil
	}

	if len(l.keys) >= l.maxKeys {
		l.evictOldest()
	}
	elem := l.order.PushBack(key)
	l.keys[key] = &keyEntry{attempts: []time.Time{now}, element: elem}
	return nil
}

// prune drops attempts that have left the window. Must be called with mu held.
func (l *MemoryLimiter) prune(attempts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(attempts) && now.Sub(attempts[i]) >= l.window {
		i++
	}
	return attempts[i:]
}

// evictOldest removes the least recently active key. Must be called with mu held.
func (l *MemoryLimiter) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.keys, key)
}

// cleanup runs in a background goroutine, periodically removing idle keys.
func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup removes keys with no attempts left in the window.
func (l *MemoryLimiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.keys {
		entry.attempts = l.prune(entry.attempts, now)
		if len(entry.attempts) == 0 {
			l.order.Remove(entry.element)
			delete(l.keys, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
