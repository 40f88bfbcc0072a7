// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Reads the token from the session cookie or Authorization header and adds the owner to context

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// SessionCookieName carries the access token for cookie-based clients.
const SessionCookieName = "bw_session"

// UserLookup is the subset of the store the middleware needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// extractToken prefers the Authorization header and falls back to the session cookie.
func extractToken(r *http.Request) (string, string) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, ""
	}
	return "", "missing credentials"
}

// authenticate resolves the request's identity, checking the user still exists.
// On failure it returns the status to answer with and a message.
func authenticate(r *http.Request, users UserLookup, verifier TokenVerifier) (*AuthContext, int, string) {
	token, errMsg := extractToken(r)
	if errMsg != "" {
		return nil, http.StatusUnauthorized, errMsg
	}

	authCtx, err := verifier.Verify(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	user, err := users.GetUser(r.Context(), authCtx.Owner.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusUnauthorized, "user not found"
	}
	if err != nil {
		return nil, http.StatusServiceUnavailable, "store unavailable"
	}
	authCtx.Owner = user.Owner()
	return authCtx, 0, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	kind := "unauthorized"
	if status == http.StatusServiceUnavailable {
		kind = "store_unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","kind":"` + kind + `"}` + "\n"))
}

// HTTPAuthMiddleware creates an HTTP middleware that requires a valid token.
// The owner is added to the request context with WithAuth.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, status, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				writeAuthError(w, status, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attempts authentication but allows anonymous requests.
func OptionalAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, _, errMsg := authenticate(r, users, verifier)
			if errMsg != "" {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// SetSessionCookie writes the access token cookie.
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the access token cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
