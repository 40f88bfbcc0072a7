// ABOUTME: User accounts and refresh-token sessions
// ABOUTME: Supports email/password auth with rotating refresh grants

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateUser creates a new user. The email is stored lowercased.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		user.ID,
		user.Email,
		user.PasswordHash,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(query), id))
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(query), strings.ToLower(strings.TrimSpace(email))))
}

func (s *SQLStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// CountUsers returns the number of registered users.
func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CreateAuthSession stores a refresh grant.
func (s *SQLStore) CreateAuthSession(ctx context.Context, session *AuthSession) error {
	query := `
		INSERT INTO auth_sessions (id, user_id, refresh_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		session.ID,
		session.UserID,
		session.RefreshHash,
		formatTime(session.CreatedAt),
		formatTime(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting auth session: %w", err)
	}

	s.logger.Debug("created auth session", "id", session.ID, "user_id", session.UserID)
	return nil
}

// GetAuthSessionByRefreshHash retrieves a valid (non-expired) session.
func (s *SQLStore) GetAuthSessionByRefreshHash(ctx context.Context, hash string) (*AuthSession, error) {
	query := `
		SELECT id, user_id, refresh_hash, created_at, expires_at
		FROM auth_sessions
		WHERE refresh_hash = ? AND expires_at > ?
	`

	var session AuthSession
	var createdAtStr, expiresAtStr string
	err := s.db.QueryRowContext(ctx, s.rebind(query), hash, formatTime(time.Now())).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshHash,
		&createdAtStr,
		&expiresAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth session: %w", err)
	}

	session.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &session, nil
}

// DeleteAuthSession revokes a refresh grant. Missing sessions are not an error.
func (s *SQLStore) DeleteAuthSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM auth_sessions WHERE id = ?"), id); err != nil {
		return fmt.Errorf("deleting auth session: %w", err)
	}
	return nil
}

// DeleteExpiredAuthSessions removes all expired sessions.
func (s *SQLStore) DeleteExpiredAuthSessions(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM auth_sessions WHERE expires_at <= ?"), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired auth sessions", "count", rowsAffected)
	}
	return nil
}
