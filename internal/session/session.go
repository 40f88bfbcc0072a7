// ABOUTME: Client-side session provider: login, refresh, logout and owner resolution
// ABOUTME: Persists the session encrypted in the local store so it survives restarts

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/ratelimit"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
)

// DefaultRefreshWindow is how close to expiry a session is refreshed.
const DefaultRefreshWindow = 5 * time.Minute

// The persisted session lives under its own pseudo-owner so that clearing an
// owner's data never touches it.
const (
	deviceOwner     = "device"
	sessionCategory = "session"
	sessionKey      = "current"
)

// ErrNotSignedIn is returned when an operation needs a session and there is none.
var ErrNotSignedIn = fmt.Errorf("%w: not signed in", record.ErrUnauthorized)

// State is a position in the session lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the signed-in owner and their tokens.
type Session struct {
	Owner        record.Owner `json:"owner"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Authenticator is the authentication backend. *remote.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*remote.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*remote.Grant, error)
	Logout(ctx context.Context, refreshToken string) error
	SetCredentials(ownerID, accessToken string)
	ClearCredentials()
}

var _ Authenticator = (*remote.Client)(nil)

// Provider owns the device's session.
type Provider struct {
	backend       Authenticator
	local         *localstore.Store
	limiter       ratelimit.Limiter
	ownsLimiter   bool
	refreshWindow time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.Mutex
	state   State
	current *Session
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides time.Now for expiry and rate-limit windows.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLimiter overrides the default 5-per-60s DeviceLimiter. The caller keeps
// ownership: Close does not close it.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// WithRefreshWindow overrides DefaultRefreshWindow.
func WithRefreshWindow(d time.Duration) Option {
	return func(p *Provider) { p.refreshWindow = d }
}

// WithLogger sets the provider's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger.With("component", "session") }
}

// New creates a Provider in the Unauthenticated state. Call Restore to pick
// up a session persisted by an earlier run.
func New(backend Authenticator, local *localstore.Store, opts ...Option) *Provider {
	p := &Provider{
		backend:       backend,
		local:         local,
		refreshWindow: DefaultRefreshWindow,
		now:           time.Now,
		logger:        slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limiter == nil {
		p.limiter = NewDeviceLimiter(local, ratelimit.DefaultLimit, ratelimit.DefaultWindow, p.now)
		p.ownsLimiter = true
	}
	return p
}

// Close releases the limiter the provider created for itself.
func (p *Provider) Close() error {
	if !p.ownsLimiter {
		return nil
	}
	if c, ok := p.limiter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// State reports the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Current returns a copy of the session, or nil when signed out.
func (p *Provider) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	s := *p.current
	return &s
}

// Restore loads the persisted session, if any.
func (p *Provider) Restore(ctx context.Context) error {
	var s Session
	ok, err := p.local.Get(ctx, deviceOwner, sessionCategory, sessionKey, &s)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !ok || s.Owner.ID == "" {
		p.state = StateUnauthenticated
		return nil
	}
	p.install(&s)
	p.logger.Debug("restored session", "owner", s.Owner.ID, "expires_at", s.ExpiresAt)
	return nil
}

// Login validates the credentials, applies the per-email rate limit and only
// then asks the backend for a session.
func (p *Provider) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := auth.ValidateCredentials(email, password); err != nil {
		return nil, err
	}
	if err := p.limiter.Allow(ctx, "login:"+email); err != nil {
		p.logger.Warn("login rate limited", "email", email)
		return nil, err
	}

	p.mu.Lock()
	p.state = StateAuthenticating
	p.mu.Unlock()

	grant, err := p.backend.Login(ctx, email, password)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateUnauthenticated
		if p.current != nil {
			p.state = StateAuthenticated
		}
		return nil, err
	}

	s := fromGrant(grant)
	if err := p.persist(ctx, s); err != nil {
		p.logger.Warn("session not persisted", "owner", s.Owner.ID, "error", err)
	}
	p.install(s)
	p.logger.Info("signed in", "owner", s.Owner.ID)

	out := *s
	return &out, nil
}

// RefreshIfNeeded refreshes a session that expires within the refresh
// window. It makes exactly one attempt; on failure the session is logged out
// and ErrNotSignedIn is returned.
func (p *Provider) RefreshIfNeeded(ctx context.Context) error {
	p.mu.Lock()
	s := p.current
	if s == nil {
		p.mu.Unlock()
		return nil
	}
	if p.now().Add(p.refreshWindow).Before(s.ExpiresAt) {
		p.mu.Unlock()
		return nil
	}
	p.state = StateRefreshing
	refreshToken := s.RefreshToken
	p.mu.Unlock()

	grant, err := p.backend.Refresh(ctx, refreshToken)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateExpired
		p.logger.Warn("session refresh failed, signing out", "owner", s.Owner.ID, "error", err)
		p.signOutLocked(ctx)
		return fmt.Errorf("%w: session expired", ErrNotSignedIn)
	}

	next := fromGrant(grant)
	if err := p.persist(ctx, next); err != nil {
		p.logger.Warn("session not persisted", "owner", next.Owner.ID, "error", err)
	}
	p.install(next)
	p.logger.Debug("session refreshed", "owner", next.Owner.ID, "expires_at", next.ExpiresAt)
	return nil
}

// Logout erases the session and evicts the owner's key from memory. The
// owner's local data and persisted key remain for their next sign-in.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.state = StateUnauthenticated
		return nil
	}

	if err := p.backend.Logout(ctx, p.current.RefreshToken); err != nil {
		// the local session is erased regardless
		p.logger.Warn("remote logout failed", "owner", p.current.Owner.ID, "error", err)
	}
	p.signOutLocked(ctx)
	return nil
}

// ClearLocalData removes the signed-in owner's local records and encryption
// key. Other owners on the device are untouched.
func (p *Provider) ClearLocalData(ctx context.Context) error {
	owner := p.ResolveOwnerOrDemo(ctx)
	return p.local.Clear(ctx, owner.ID)
}

// CurrentOwner returns the signed-in owner after refreshing the session if
// needed.
func (p *Provider) CurrentOwner(ctx context.Context) (record.Owner, error) {
	if err := p.RefreshIfNeeded(ctx); err != nil {
		return record.Owner{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return record.Owner{}, ErrNotSignedIn
	}
	return p.current.Owner, nil
}

// ResolveOwnerOrDemo returns the signed-in owner, or record.DemoOwner when
// nobody is signed in.
func (p *Provider) ResolveOwnerOrDemo(ctx context.Context) record.Owner {
	owner, err := p.CurrentOwner(ctx)
	if err != nil {
		return record.DemoOwner
	}
	return owner
}

// install makes s current. Callers hold p.mu.
func (p *Provider) install(s *Session) {
	p.current = s
	p.state = StateAuthenticated
	p.backend.SetCredentials(s.Owner.ID, s.AccessToken)
}

// signOutLocked erases the session. Callers hold p.mu.
func (p *Provider) signOutLocked(ctx context.Context) {
	if p.current != nil {
		p.local.Forget(p.current.Owner.ID)
		p.logger.Info("signed out", "owner", p.current.Owner.ID)
	}
	if err := p.local.Remove(ctx, deviceOwner, sessionCategory, sessionKey); err != nil {
		p.logger.Warn("failed to erase persisted session", "error", err)
	}
	p.backend.ClearCredentials()
	p.current = nil
	p.state = StateUnauthenticated
}

func (p *Provider) persist(ctx context.Context, s *Session) error {
	return p.local.Set(ctx, deviceOwner, sessionCategory, sessionKey, s)
}

func fromGrant(g *remote.Grant) *Session {
	return &Session{
		Owner:        g.Owner,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.ExpiresAt,
	}
}

// IsNotSignedIn reports whether err means no session is available.
func IsNotSignedIn(err error) bool {
	return errors.Is(err, record.ErrUnauthorized)
}
