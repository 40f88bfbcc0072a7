// ABOUTME: Tests for signup, login, refresh rotation, logout and the login rate limit
// ABOUTME: Drives the handlers through the gateway mux with httptest recorders

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Email: " Ada@Example.com ", Password: testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ada@example.com", resp.Owner.Email)
	assert.NotEmpty(t, resp.Owner.ID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "session cookie should be set")
	assert.Equal(t, resp.AccessToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	entries, err := env.store.ListAuditLog(t.Context(), store.AuditFilter{OwnerID: resp.Owner.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditSignup, entries[0].Action)
}

func TestSignup_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Email: "not-an-email", Password: "short"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, "validation", resp.Kind)
	fields := map[string]bool{}
	for _, v := range resp.Violations {
		fields[v.Field] = true
	}
	assert.True(t, fields["email"])
	assert.True(t, fields["password"])
}

func TestSignup_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/signup", "", CredentialsRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, "email", resp.Violations[0].Field)
}

func TestSignup_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, "body", resp.Violations[0].Field)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, session.Owner.ID, resp.Owner.ID)

	me := env.do(t, http.MethodGet, "/api/auth/me", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, me.Code)
	var meResp MeResponse
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &meResp))
	assert.Equal(t, "ada@example.com", meResp.Owner.Email)
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "ada@example.com", Password: "Wrong1234"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "nobody@example.com", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "ada@example.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLogin_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "ada@example.com")

	bad := CredentialsRequest{Email: "ada@example.com", Password: "Wrong1234"}
	for i := 0; i < 5; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	// Sixth attempt in the window is rejected even with the right password
	rec := env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "ada@example.com", Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Kind)

	// Another email is unaffected
	rec = env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "bob@example.com", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.clock.Advance(61 * time.Second)
	rec = env.do(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: "ada@example.com", Password: testPassword})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, session.RefreshToken, resp.RefreshToken)
	assert.Equal(t, session.Owner.ID, resp.Owner.ID)

	// The consumed token is no longer valid
	rec = env.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_Expired(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "ada@example.com")

	env.clock.Advance(25 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "ada@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/logout", session.AccessToken, RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie should be cleared")

	rec = env.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	action := store.AuditLogout
	entries, err := env.store.ListAuditLog(t.Context(), store.AuditFilter{OwnerID: session.Owner.ID, Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMe_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
