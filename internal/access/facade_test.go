// ABOUTME: End-to-end tests for the access facade over a real gateway, client and session
// ABOUTME: Outages are simulated at the remote store boundary so sign-in keeps working

package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/blvckwall/blvckwall-gateway/internal/config"
	"github.com/blvckwall/blvckwall-gateway/internal/gateway"
	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/providers"
	"github.com/blvckwall/blvckwall-gateway/internal/ratelimit"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
	"github.com/blvckwall/blvckwall-gateway/internal/session"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

const testPassword = "Secret123"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

// switchableRemote wraps the real client and can be cut off.
type switchableRemote struct {
	RemoteStore

	mu    sync.Mutex
	down  bool
	calls int
}

func (s *switchableRemote) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *switchableRemote) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.down {
		return record.Unavailable("remote", errors.New("connection refused"))
	}
	return nil
}

func (s *switchableRemote) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *switchableRemote) List(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.RemoteStore.List(ctx, ownerID, c, f)
}

func (s *switchableRemote) Get(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.RemoteStore.Get(ctx, ownerID, c, id)
}

func (s *switchableRemote) Insert(ctx context.Context, ownerID string, c record.Category, fields map[string]any) (*record.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.RemoteStore.Insert(ctx, ownerID, c, fields)
}

func (s *switchableRemote) Update(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.RemoteStore.Update(ctx, ownerID, c, id, patch)
}

func (s *switchableRemote) Delete(ctx context.Context, ownerID string, c record.Category, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.RemoteStore.Delete(ctx, ownerID, c, id)
}

type harness struct {
	facade   *Facade
	sessions *session.Provider
	client   *remote.Client
	remote   *switchableRemote
	local    *localstore.Store
	store    *store.MockStore
	clock    *testClock
	spans    *tracetest.SpanRecorder
	metrics  *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Now()}
	ms := store.NewMockStore()
	limiter := ratelimit.NewMemory(5, time.Minute, ratelimit.WithClock(clock.Now))
	t.Cleanup(func() { _ = limiter.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret-that-is-at-least-32-bytes-long",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
	}
	gw, err := gateway.NewWithDeps(cfg, gateway.Deps{
		Store:     ms,
		Limiter:   limiter,
		Providers: providers.Demo(),
		Now:       clock.Now,
	}, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	client := remote.New(srv.URL, remote.WithLogger(testLogger()))
	local := localstore.New(localstore.NewMemoryBackend())
	sessions := session.New(client, local, session.WithLogger(testLogger()))
	sw := &switchableRemote{RemoteStore: client}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	f, err := New(sw, local, sessions,
		WithLogger(testLogger()),
		WithTracer(tp.Tracer("test")),
		WithMeter(mp.Meter("test")),
	)
	require.NoError(t, err)

	return &harness{
		facade:   f,
		sessions: sessions,
		client:   client,
		remote:   sw,
		local:    local,
		store:    ms,
		clock:    clock,
		spans:    spans,
		metrics:  reader,
	}
}

// signIn registers email on the gateway and signs the device in.
func (h *harness) signIn(t *testing.T, email string) record.Owner {
	t.Helper()
	ctx := context.Background()
	_, err := h.client.Signup(ctx, email, testPassword)
	if err != nil && !errors.Is(err, record.ErrValidation) {
		require.NoError(t, err)
	}
	s, err := h.sessions.Login(ctx, email, testPassword)
	require.NoError(t, err)
	return s.Owner
}

func (h *harness) fallbacks(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.metrics.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "access.fallback" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestFacade_DemoOwnerStaysLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.Equal(t, ModeLocalDemo, h.facade.Mode(ctx))

	rec, err := h.facade.Create(ctx, record.CategoryAgents, map[string]any{"name": "Demo", "voice": "ava"})
	require.NoError(t, err)
	assert.Equal(t, record.DemoOwner.ID, rec.OwnerID)

	list, err := h.facade.List(ctx, record.CategoryAgents, record.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, h.remote.Calls())

	// demo data is not visible once a real owner signs in
	h.signIn(t, "ada@example.com")
	assert.Equal(t, ModeRemote, h.facade.Mode(ctx))
	list, err = h.facade.List(ctx, record.CategoryAgents, record.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFacade_CreateThenGetAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u1 := h.signIn(t, "u1@example.com")

	older, err := h.facade.Create(ctx, record.CategoryAgents, map[string]any{"name": "Receptionist", "voice": "sam"})
	require.NoError(t, err)
	h.clock.Advance(time.Second)

	smith, err := h.facade.Create(ctx, record.CategoryAgents, map[string]any{
		"name": "Dr. Smith", "voice": "ava", "temperature": 0.7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, smith.ID)
	assert.False(t, smith.CreatedAt.IsZero())
	assert.Equal(t, u1.ID, smith.OwnerID)

	got, err := h.facade.Get(ctx, record.CategoryAgents, smith.ID)
	require.NoError(t, err)
	assert.Equal(t, smith.ID, got.ID)
	assert.Equal(t, "Dr. Smith", got.Fields["name"])
	assert.Equal(t, "ava", got.Fields["voice"])
	assert.EqualValues(t, 0.7, got.Fields["temperature"])

	list, err := h.facade.List(ctx, record.CategoryAgents, record.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, smith.ID, list[0].ID, "most recent first")
	assert.Equal(t, older.ID, list[1].ID)

	// served by the remote store, nothing landed locally
	local, err := h.local.ListRecords(ctx, u1.ID, record.CategoryAgents, record.Filter{})
	require.NoError(t, err)
	assert.Empty(t, local)
	assert.Zero(t, h.fallbacks(t))
}

func TestFacade_ValidationListsEveryViolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "ada@example.com")
	before := h.remote.Calls()

	_, err := h.facade.Create(ctx, record.CategoryAgents, map[string]any{"greeting": "Hi"})
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, []string{"name", "voice"}, verr.Fields())

	_, err = h.facade.Create(ctx, record.CategoryAgents, map[string]any{"name": "Bot", "voice": "ava", "temperature": 3})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"temperature"}, verr.Fields())

	_, err = h.facade.Update(ctx, record.CategoryAgents, "a1", map[string]any{"name": ""})
	require.True(t, errors.As(err, &verr))

	_, err = h.facade.List(ctx, record.Category("widgets"), record.Filter{})
	assert.True(t, errors.Is(err, record.ErrValidation))

	assert.Equal(t, before, h.remote.Calls(), "no store touched on bad input")
}

func TestFacade_FallbackDeterminism(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.signIn(t, "ada@example.com")

	h.remote.SetDown(true)
	fields := map[string]any{"name": "FAQ", "content": "# Hello", "description": "offline draft"}
	rec, err := h.facade.Create(ctx, record.CategoryKnowledgeBases, fields)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, rec.OwnerID)

	got, err := h.facade.Get(ctx, record.CategoryKnowledgeBases, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, fields, got.Fields)
	assert.Equal(t, rec.CreatedAt.Unix(), got.CreatedAt.Unix())

	list, err := h.facade.List(ctx, record.CategoryKnowledgeBases, record.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := h.facade.Update(ctx, record.CategoryKnowledgeBases, rec.ID, map[string]any{"description": "edited"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	assert.EqualValues(t, 4, h.fallbacks(t))

	var fallbackSpans int
	for _, s := range h.spans.Ended() {
		for _, a := range s.Attributes() {
			if a.Key == "access.served_by" && a.Value.AsString() == "local" {
				fallbackSpans++
			}
		}
	}
	assert.Equal(t, 4, fallbackSpans)
}

func TestFacade_ReusedIDRejectedByEitherStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "ada@example.com")

	idViolation := func(t *testing.T, err error) {
		t.Helper()
		var verr *record.ValidationError
		require.True(t, errors.As(err, &verr), "got %v", err)
		require.Len(t, verr.Violations, 1)
		assert.Equal(t, record.KeyID, verr.Violations[0].Field)
	}

	_, err := h.facade.Create(ctx, record.CategoryKnowledgeBases, map[string]any{"id": "kb-1", "name": "FAQ"})
	require.NoError(t, err)
	_, err = h.facade.Create(ctx, record.CategoryKnowledgeBases, map[string]any{"id": "kb-1", "name": "Again"})
	idViolation(t, err)

	h.remote.SetDown(true)
	first, err := h.facade.Create(ctx, record.CategoryKnowledgeBases, map[string]any{"id": "kb-2", "name": "Offline"})
	require.NoError(t, err)
	_, err = h.facade.Create(ctx, record.CategoryKnowledgeBases, map[string]any{"id": "kb-2", "name": "Clobber"})
	idViolation(t, err)

	got, err := h.facade.Get(ctx, record.CategoryKnowledgeBases, "kb-2")
	require.NoError(t, err)
	assert.Equal(t, "Offline", got.Fields["name"])
	assert.Equal(t, first.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, 1, got.Version)
}

func TestFacade_NotFoundDoesNotFallBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.signIn(t, "ada@example.com")

	// a record that only exists locally is invisible while remote answers
	local := &record.Record{OwnerID: owner.ID, Category: record.CategoryAgents, Fields: map[string]any{"name": "Cached", "voice": "ava"}}
	require.NoError(t, h.local.PutRecord(ctx, local))

	_, err := h.facade.Get(ctx, record.CategoryAgents, local.ID)
	assert.True(t, errors.Is(err, record.ErrNotFound), "got %v", err)
	assert.Zero(t, h.fallbacks(t))
}

func TestFacade_Isolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.signIn(t, "o1@example.com")
	r1, err := h.facade.Create(ctx, record.CategoryPhoneNumbers, map[string]any{"number": "+15550001111"})
	require.NoError(t, err)
	h.remote.SetDown(true)
	r1Local, err := h.facade.Create(ctx, record.CategoryPhoneNumbers, map[string]any{"number": "+15550002222"})
	require.NoError(t, err)
	h.remote.SetDown(false)
	require.NoError(t, h.sessions.Logout(ctx))

	h.signIn(t, "o2@example.com")
	for _, down := range []bool{false, true} {
		h.remote.SetDown(down)
		list, err := h.facade.List(ctx, record.CategoryPhoneNumbers, record.Filter{})
		require.NoError(t, err)
		for _, r := range list {
			assert.NotEqual(t, r1.ID, r.ID)
			assert.NotEqual(t, r1Local.ID, r.ID)
		}

		_, err = h.facade.Get(ctx, record.CategoryPhoneNumbers, r1.ID)
		assert.True(t, errors.Is(err, record.ErrNotFound), "down=%v: %v", down, err)
	}
}

func TestFacade_IdempotentDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "ada@example.com")

	rec, err := h.facade.Create(ctx, record.CategoryFeedbackSubmissions, map[string]any{"message": "Great", "rating": 5})
	require.NoError(t, err)

	require.NoError(t, h.facade.Delete(ctx, record.CategoryFeedbackSubmissions, rec.ID))
	err = h.facade.Delete(ctx, record.CategoryFeedbackSubmissions, rec.ID)
	if err != nil {
		assert.True(t, errors.Is(err, record.ErrNotFound), "got %v", err)
	}

	// a locally written record is removed while remote lacks it
	h.remote.SetDown(true)
	offline, err := h.facade.Create(ctx, record.CategoryFeedbackSubmissions, map[string]any{"message": "Offline"})
	require.NoError(t, err)
	h.remote.SetDown(false)

	require.NoError(t, h.facade.Delete(ctx, record.CategoryFeedbackSubmissions, offline.ID))
	h.remote.SetDown(true)
	_, err = h.facade.Get(ctx, record.CategoryFeedbackSubmissions, offline.ID)
	assert.True(t, errors.Is(err, record.ErrNotFound))

	// remote down and local missing is not a failure of both stores
	err = h.facade.Delete(ctx, record.CategoryFeedbackSubmissions, "never-existed")
	assert.NoError(t, err)
}

func TestFacade_DeleteFailsWhenBothStoresFail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "ada@example.com")

	broken := &brokenLocal{LocalStore: h.local}
	f, err := New(h.remote, broken, h.sessions, WithLogger(testLogger()))
	require.NoError(t, err)

	h.remote.SetDown(true)
	err = f.Delete(ctx, record.CategoryAgents, "a1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrStoreUnavailable))
}

// brokenLocal fails every delete.
type brokenLocal struct {
	LocalStore
}

func (brokenLocal) DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error {
	return record.Unavailable("local", errors.New("disk full"))
}

func TestFacade_LocalDataSurvivesLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u2 := h.signIn(t, "u2@example.com")

	h.remote.SetDown(true)
	kb, err := h.facade.Create(ctx, record.CategoryKnowledgeBases, map[string]any{"name": "Field notes"})
	require.NoError(t, err)

	require.NoError(t, h.sessions.Logout(ctx))
	assert.Equal(t, ModeLocalDemo, h.facade.Mode(ctx))
	_, err = h.facade.Get(ctx, record.CategoryKnowledgeBases, kb.ID)
	assert.True(t, errors.Is(err, record.ErrNotFound), "demo owner cannot read u2's data")

	again := h.signIn(t, "u2@example.com")
	assert.Equal(t, u2.ID, again.ID)

	got, err := h.facade.Get(ctx, record.CategoryKnowledgeBases, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "Field notes", got.Fields["name"])
}

func TestFacade_SpanPerOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "ada@example.com")

	rec, err := h.facade.Create(ctx, record.CategoryAgents, map[string]any{"name": "Bot", "voice": "ava"})
	require.NoError(t, err)
	_, err = h.facade.Get(ctx, record.CategoryAgents, "missing")
	require.Error(t, err)
	require.NoError(t, h.facade.Delete(ctx, record.CategoryAgents, rec.ID))

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"access.create", "access.get", "access.delete"}, names)
	assert.Equal(t, "not_found", h.spans.Ended()[1].Status().Description)
}
