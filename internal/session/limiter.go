// ABOUTME: Login attempt limiter kept in the local store under the device pseudo-owner
// ABOUTME: The per-email budget holds across separate processes on the same device

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/ratelimit"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

const attemptsCategory = "login_attempts"

// DeviceLimiter is a sliding-window limiter whose attempt times are stored
// encrypted in the local store, so a CLI invoked once per login still sees
// the attempts of earlier runs.
type DeviceLimiter struct {
	local  *localstore.Store
	limit  int
	window time.Duration
	now    func() time.Time

	mu sync.Mutex
}

// NewDeviceLimiter creates a limiter allowing limit attempts per window.
func NewDeviceLimiter(local *localstore.Store, limit int, window time.Duration, now func() time.Time) *DeviceLimiter {
	if now == nil {
		now = time.Now
	}
	return &DeviceLimiter{local: local, limit: limit, window: window, now: now}
}

// Allow implements ratelimit.Limiter. Rejected attempts are not recorded.
func (l *DeviceLimiter) Allow(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var attempts []time.Time
	if _, err := l.local.Get(ctx, deviceOwner, attemptsCategory, key, &attempts); err != nil {
		return fmt.Errorf("loading login attempts: %w", err)
	}

	now := l.now()
	kept := attempts[:0]
	for _, at := range attempts {
		if now.Sub(at) < l.window {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.limit {
		return &record.RateLimitedError{RetryAfter: kept[0].Add(l.window).Sub(now)}
	}

	kept = append(kept, now)
	if err := l.local.Set(ctx, deviceOwner, attemptsCategory, key, kept); err != nil {
		return fmt.Errorf("saving login attempts: %w", err)
	}
	return nil
}

var _ ratelimit.Limiter = (*DeviceLimiter)(nil)
