// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers bearer and cookie extraction, token validation and user lookup

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

type mockUsers struct {
	users map[string]*store.User
}

func (m *mockUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func newMockUsers() *mockUsers {
	return &mockUsers{users: map[string]*store.User{
		"user-123": {ID: "user-123", Email: "ada@example.com"},
	}}
}

func captureHandler(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestHTTPAuthMiddleware_BearerToken(t *testing.T) {
	issuer := newTestIssuer(t)
	token, _, _ := issuer.Issue(record.Owner{ID: "user-123", Email: "ada@example.com"}, time.Hour)

	var got *AuthContext
	handler := HTTPAuthMiddleware(newMockUsers(), issuer)(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/records/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.Owner.ID != "user-123" {
		t.Errorf("AuthContext = %+v, want owner user-123", got)
	}
}

func TestHTTPAuthMiddleware_SessionCookie(t *testing.T) {
	issuer := newTestIssuer(t)
	token, expiresAt, _ := issuer.Issue(record.Owner{ID: "user-123", Email: "ada@example.com"}, time.Hour)

	// round trip the cookie through SetSessionCookie
	w := httptest.NewRecorder()
	SetSessionCookie(w, token, expiresAt, false)
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	var got *AuthContext
	handler := HTTPAuthMiddleware(newMockUsers(), issuer)(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.Owner.Email != "ada@example.com" {
		t.Errorf("AuthContext = %+v, want ada@example.com", got)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	ghost, _, _ := issuer.Issue(record.Owner{ID: "deleted-user"}, time.Hour)
	expired, _, _ := issuer.Issue(record.Owner{ID: "user-123"}, -time.Minute)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "no credentials", header: "", want: "missing credentials"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", want: "invalid authorization header format"},
		{name: "garbage token", header: "Bearer nope", want: "invalid token"},
		{name: "expired token", header: "Bearer " + expired, want: "invalid token"},
		{name: "unknown user", header: "Bearer " + ghost, want: "user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthContext
			handler := HTTPAuthMiddleware(newMockUsers(), issuer)(captureHandler(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/records/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.want)
			}
			if got != nil {
				t.Error("handler should not have been called")
			}
		})
	}
}

type downUsers struct{}

func (downUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	return nil, record.Unavailable("test", nil)
}

func TestHTTPAuthMiddleware_StoreDown(t *testing.T) {
	issuer := newTestIssuer(t)
	token, _, _ := issuer.Issue(record.Owner{ID: "user-123"}, time.Hour)

	var got *AuthContext
	handler := HTTPAuthMiddleware(downUsers{}, issuer)(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/records/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "store_unavailable") {
		t.Errorf("body = %q, want kind store_unavailable", rec.Body.String())
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	issuer := newTestIssuer(t)
	token, _, _ := issuer.Issue(record.Owner{ID: "user-123"}, time.Hour)

	var got *AuthContext
	handler := OptionalAuthMiddleware(newMockUsers(), issuer)(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != nil {
		t.Errorf("anonymous request: code=%d auth=%v", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got == nil || got.Owner.ID != "user-123" {
		t.Errorf("authenticated request: auth=%+v", got)
	}
}
