// ABOUTME: Tests for the session provider using a scripted authentication backend
// ABOUTME: Covers login throttling, refresh, logout and owner resolution

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
)

const testPassword = "Secret123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAuth accepts testPassword for any email and counts calls.
type fakeAuth struct {
	mu          sync.Mutex
	clock       *testClock
	ttl         time.Duration
	logins      int
	refreshes   int
	logouts     int
	refreshErr  error
	credentials string
}

func (f *fakeAuth) grant(email string) *remote.Grant {
	return &remote.Grant{
		Owner:        record.Owner{ID: "owner-" + email, Email: email},
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    f.clock.Now().Add(f.ttl),
	}
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*remote.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if password != testPassword {
		return nil, record.ErrUnauthorized
	}
	return f.grant(email), nil
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (*remote.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	g := f.grant("ada@example.com")
	g.RefreshToken = refreshToken + "-next"
	return g, nil
}

func (f *fakeAuth) Logout(ctx context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeAuth) SetCredentials(ownerID, accessToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = ownerID
}

func (f *fakeAuth) ClearCredentials() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = ""
}

type testEnv struct {
	provider *Provider
	auth     *fakeAuth
	local    *localstore.Store
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	fa := &fakeAuth{clock: clock, ttl: time.Hour}
	local := localstore.New(localstore.NewMemoryBackend())
	p := New(fa, local,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &testEnv{provider: p, auth: fa, local: local, clock: clock}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.Equal(t, StateUnauthenticated, env.provider.State())

	s, err := env.provider.Login(ctx, " Ada@Example.com ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", s.Owner.Email)
	assert.Equal(t, StateAuthenticated, env.provider.State())
	assert.Equal(t, s.Owner.ID, env.auth.credentials)

	owner, err := env.provider.CurrentOwner(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Owner, owner)
}

func TestLogin_InvalidCredentialsNeverReachBackend(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.provider.Login(context.Background(), "not-an-email", "short")
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"email", "password"}, verr.Fields())
	assert.Zero(t, env.auth.logins)
}

func TestLogin_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.provider.Login(ctx, "ada@example.com", "Wrong1234")
		require.True(t, errors.Is(err, record.ErrUnauthorized), "attempt %d: %v", i+1, err)
	}
	require.Equal(t, 5, env.auth.logins)

	_, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	var rl *record.RateLimitedError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Positive(t, rl.RetryAfter)
	assert.Equal(t, 5, env.auth.logins, "throttled attempt must not reach the backend")

	// other emails are independent
	_, err = env.provider.Login(ctx, "grace@example.com", testPassword)
	require.NoError(t, err)

	env.clock.Advance(61 * time.Second)
	_, err = env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, 7, env.auth.logins)
}

func TestLogin_RateLimitSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.provider.Login(ctx, "ada@example.com", "Wrong1234")
		require.True(t, errors.Is(err, record.ErrUnauthorized), "attempt %d: %v", i+1, err)
	}
	require.NoError(t, env.provider.Close())

	// a second process on the same device shares the local store
	next := New(env.auth, env.local,
		WithClock(env.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer func() { _ = next.Close() }()

	_, err := next.Login(ctx, "ada@example.com", testPassword)
	var rl *record.RateLimitedError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Equal(t, 5, env.auth.logins, "throttled attempt must not reach the backend")

	env.clock.Advance(61 * time.Second)
	_, err = next.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
}

func TestClose_LeavesInjectedLimiterOpen(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	limiter := &closeTrackingLimiter{}
	p := New(&fakeAuth{clock: clock, ttl: time.Hour}, localstore.New(localstore.NewMemoryBackend()),
		WithClock(clock.Now),
		WithLimiter(limiter),
	)

	require.NoError(t, p.Close())
	assert.False(t, limiter.closed)
}

type closeTrackingLimiter struct {
	closed bool
}

func (l *closeTrackingLimiter) Allow(ctx context.Context, key string) error { return nil }

func (l *closeTrackingLimiter) Close() error {
	l.closed = true
	return nil
}

func TestLogin_FailureKeepsExistingSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	_, err = env.provider.Login(ctx, "grace@example.com", "Wrong1234")
	require.Error(t, err)
	assert.Equal(t, StateAuthenticated, env.provider.State())
	assert.Equal(t, "ada@example.com", env.provider.Current().Owner.Email)
}

func TestRefreshIfNeeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.provider.RefreshIfNeeded(ctx))
	assert.Zero(t, env.auth.refreshes, "far from expiry")

	env.clock.Advance(56 * time.Minute)
	require.NoError(t, env.provider.RefreshIfNeeded(ctx))
	assert.Equal(t, 1, env.auth.refreshes)
	assert.Equal(t, "refresh-ada@example.com-next", env.provider.Current().RefreshToken)
	assert.Equal(t, env.clock.Now().Add(time.Hour), env.provider.Current().ExpiresAt)
}

func TestRefreshIfNeeded_FailureSignsOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)

	env.auth.refreshErr = record.ErrUnauthorized
	env.clock.Advance(2 * time.Hour)

	_, err = env.provider.CurrentOwner(ctx)
	require.True(t, IsNotSignedIn(err))
	assert.Equal(t, 1, env.auth.refreshes, "exactly one attempt")
	assert.Equal(t, StateUnauthenticated, env.provider.State())
	assert.Empty(t, env.auth.credentials)
	assert.Equal(t, record.DemoOwner, env.provider.ResolveOwnerOrDemo(ctx))
}

func TestRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)

	restarted := New(env.auth, env.local, WithClock(env.clock.Now))
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, StateAuthenticated, restarted.State())
	assert.Equal(t, s.Owner, restarted.Current().Owner)

	require.NoError(t, restarted.Logout(ctx))

	again := New(env.auth, env.local, WithClock(env.clock.Now))
	require.NoError(t, again.Restore(ctx))
	assert.Equal(t, StateUnauthenticated, again.State())
	assert.Nil(t, again.Current())
}

func TestLogout_KeepsLocalDataReadable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s, err := env.provider.Login(ctx, "u2@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.local.Set(ctx, s.Owner.ID, "notes", "n1", "remember me"))
	require.NoError(t, env.provider.Logout(ctx))
	assert.Equal(t, 1, env.auth.logouts)
	assert.Equal(t, record.DemoOwner, env.provider.ResolveOwnerOrDemo(ctx))

	_, err = env.provider.Login(ctx, "u2@example.com", testPassword)
	require.NoError(t, err)
	var got string
	ok, err := env.local.Get(ctx, s.Owner.ID, "notes", "n1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remember me", got)
}

func TestClearLocalData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s, err := env.provider.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, env.local.Set(ctx, s.Owner.ID, "notes", "n1", "mine"))
	require.NoError(t, env.local.Set(ctx, "someone-else", "notes", "n1", "theirs"))

	require.NoError(t, env.provider.ClearLocalData(ctx))

	keys, err := env.local.Keys(ctx, s.Owner.ID, "notes")
	require.NoError(t, err)
	assert.Empty(t, keys)

	var theirs string
	ok, err := env.local.Get(ctx, "someone-else", "notes", "n1", &theirs)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateAuthenticated, env.provider.State(), "session survives a data clear")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "State(42)", State(42).String())
}
