// ABOUTME: HTTP handlers for signup, login, token refresh, logout and identity
// ABOUTME: Issues JWT access tokens in the bw_session cookie and rotating refresh tokens

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// CredentialsRequest is the JSON body for signup and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the JSON body for refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse is returned by signup, login and refresh.
type SessionResponse struct {
	Owner        record.Owner `json:"owner"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// MeResponse is returned by GET /api/auth/me.
type MeResponse struct {
	Owner     record.Owner `json:"owner"`
	ExpiresAt time.Time    `json:"expires_at"`
}

var errBadCredentials = fmt.Errorf("%w: invalid email or password", record.ErrUnauthorized)
var errBadRefresh = fmt.Errorf("%w: invalid or expired refresh token", record.ErrUnauthorized)

func (g *Gateway) registerAuthRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(g.store, g.issuer)
	optionalAuth := auth.OptionalAuthMiddleware(g.store, g.issuer)

	mux.HandleFunc("POST /api/auth/signup", g.handleSignup)
	mux.HandleFunc("POST /api/auth/login", g.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", g.handleRefresh)
	mux.Handle("POST /api/auth/logout", optionalAuth(http.HandlerFunc(g.handleLogout)))
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(g.handleMe)))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// handleSignup handles POST /api/auth/signup.
func (g *Gateway) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	req.Email = normalizeEmail(req.Email)

	if err := auth.ValidateCredentials(req.Email, req.Password); err != nil {
		g.writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			err = record.NewValidationError(record.Violation{Field: "email", Message: "is already registered"})
		}
		g.writeError(w, r, err)
		return
	}

	resp, err := g.issueSession(r.Context(), w, user)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.audit(r.Context(), &store.AuditEntry{
		OwnerID:    user.ID,
		Action:     store.AuditSignup,
		TargetType: "user",
		TargetID:   user.ID,
	})
	g.logger.Info("user signed up", "user_id", user.ID)

	writeJSON(w, http.StatusCreated, resp)
}

// handleLogin handles POST /api/auth/login. At most ratelimit.attempts
// attempts per email are evaluated within the window.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	req.Email = normalizeEmail(req.Email)

	var violations []record.Violation
	if req.Email == "" {
		violations = append(violations, record.Violation{Field: "email", Message: "is required"})
	}
	if req.Password == "" {
		violations = append(violations, record.Violation{Field: "password", Message: "is required"})
	}
	if len(violations) > 0 {
		g.writeError(w, r, record.NewValidationError(violations...))
		return
	}

	if err := g.limiter.Allow(r.Context(), "login:"+req.Email); err != nil {
		if !errors.Is(err, record.ErrRateLimited) {
			err = record.Unavailable("ratelimit", err)
		} else {
			g.logger.Warn("login rate limited", "email", req.Email)
		}
		g.writeError(w, r, err)
		return
	}

	user, err := g.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, err)
		return
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	// CheckPassword runs a comparison even for unknown users
	if !auth.CheckPassword(hash, req.Password) || user == nil {
		g.writeError(w, r, errBadCredentials)
		return
	}

	resp, err := g.issueSession(r.Context(), w, user)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.audit(r.Context(), &store.AuditEntry{
		OwnerID:    user.ID,
		Action:     store.AuditLogin,
		TargetType: "user",
		TargetID:   user.ID,
	})

	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh handles POST /api/auth/refresh. The presented refresh token
// is consumed and replaced.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		g.writeError(w, r, record.NewValidationError(record.Violation{Field: "refresh_token", Message: "is required"}))
		return
	}

	ctx := r.Context()
	sess, err := g.store.GetAuthSessionByRefreshHash(ctx, auth.HashRefreshToken(req.RefreshToken))
	if errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, errBadRefresh)
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if err := g.store.DeleteAuthSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, err)
		return
	}
	if !g.now().Before(sess.ExpiresAt) {
		g.writeError(w, r, errBadRefresh)
		return
	}

	user, err := g.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, errBadRefresh)
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp, err := g.issueSession(ctx, w, user)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout handles POST /api/auth/logout. It always clears the cookie;
// a refresh token in the body is revoked.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	ctx := r.Context()
	if req.RefreshToken != "" {
		sess, err := g.store.GetAuthSessionByRefreshHash(ctx, auth.HashRefreshToken(req.RefreshToken))
		switch {
		case err == nil:
			if err := g.store.DeleteAuthSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				g.writeError(w, r, err)
				return
			}
		case !errors.Is(err, store.ErrNotFound):
			g.writeError(w, r, err)
			return
		}
	}

	auth.ClearSessionCookie(w, g.config.Server.SecureCookies)

	if ac := auth.FromContext(ctx); ac != nil {
		g.audit(ctx, &store.AuditEntry{
			OwnerID:    ac.Owner.ID,
			Action:     store.AuditLogout,
			TargetType: "user",
			TargetID:   ac.Owner.ID,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMe handles GET /api/auth/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{Owner: ac.Owner, ExpiresAt: ac.ExpiresAt})
}

// issueSession mints an access token and a refresh grant for user and sets
// the session cookie.
func (g *Gateway) issueSession(ctx context.Context, w http.ResponseWriter, user *store.User) (*SessionResponse, error) {
	owner := user.Owner()

	access, expiresAt, err := g.issuer.Issue(owner, g.config.Auth.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}

	refresh, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	now := g.now().UTC()
	sess := &store.AuthSession{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		RefreshHash: refreshHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.config.Auth.RefreshTTL),
	}
	if err := g.store.CreateAuthSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating auth session: %w", err)
	}

	auth.SetSessionCookie(w, access, expiresAt, g.config.Server.SecureCookies)

	return &SessionResponse{
		Owner:        owner,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.UTC(),
	}, nil
}
