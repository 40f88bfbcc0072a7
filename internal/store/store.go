// ABOUTME: Store interface and data types for blvckwall-gateway persistence
// ABOUTME: Defines User, AuthSession and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// ErrNotFound is returned when a requested entity does not exist, or exists
// but belongs to another owner.
var ErrNotFound = record.ErrNotFound

// ErrEmailExists is returned when trying to create a user with a registered email.
var ErrEmailExists = errors.New("email already registered")

// ErrDuplicateRecord is returned when an insert reuses one of the owner's ids
// within a category. Ids are scoped per owner.
var ErrDuplicateRecord = errors.New("record id already exists")

// User is a portal account.
type User struct {
	ID           string
	Email        string // stored lowercased
	PasswordHash string // bcrypt
	CreatedAt    time.Time
}

// Owner returns the identity records are scoped to.
func (u *User) Owner() record.Owner {
	return record.Owner{ID: u.ID, Email: u.Email}
}

// AuthSession is a refresh-token grant. Only the SHA-256 of the token is kept.
type AuthSession struct {
	ID          string
	UserID      string
	RefreshHash string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store defines the interface for gateway persistence. Every record method
// is scoped by owner; a row held by another owner is reported as ErrNotFound.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CountUsers(ctx context.Context) (int, error)

	// Refresh sessions
	CreateAuthSession(ctx context.Context, session *AuthSession) error
	GetAuthSessionByRefreshHash(ctx context.Context, hash string) (*AuthSession, error)
	DeleteAuthSession(ctx context.Context, id string) error
	DeleteExpiredAuthSessions(ctx context.Context) error

	// Records
	ListRecords(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error)
	GetRecord(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error)
	InsertRecord(ctx context.Context, r *record.Record) error
	UpdateRecord(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error)
	DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error

	// Audit log
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Ping reports whether the database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
