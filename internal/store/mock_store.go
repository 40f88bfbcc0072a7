// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to simulate an unreachable database

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// ErrMockUnavailable is returned by every MockStore method while SetUnavailable(true).
var ErrMockUnavailable = record.Unavailable("mock", errors.New("database unreachable"))

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	users       map[string]*User          // keyed by user ID
	usersByMail map[string]string         // keyed by email -> user ID
	sessions    map[string]*AuthSession   // keyed by session ID
	records     map[string]*record.Record // keyed by "category:id"
	audit       []AuditEntry
	unavailable bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:       make(map[string]*User),
		usersByMail: make(map[string]string),
		sessions:    make(map[string]*AuthSession),
		records:     make(map[string]*record.Record),
	}
}

// SetUnavailable makes every subsequent call fail until reset.
func (m *MockStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

func recordKey(ownerID string, c record.Category, id string) string {
	return ownerID + ":" + string(c) + ":" + id
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := m.usersByMail[user.Email]; exists {
		return ErrEmailExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	u := *user
	m.users[u.ID] = &u
	m.usersByMail[u.Email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.usersByMail[strings.ToLower(strings.TrimSpace(email))]
	unavailable := m.unavailable
	m.mu.RUnlock()
	if unavailable {
		return nil, ErrMockUnavailable
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

// CountUsers returns the number of users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return 0, ErrMockUnavailable
	}
	return len(m.users), nil
}

// CreateAuthSession stores a refresh grant.
func (m *MockStore) CreateAuthSession(ctx context.Context, session *AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

// GetAuthSessionByRefreshHash finds a non-expired grant by token hash.
func (m *MockStore) GetAuthSessionByRefreshHash(ctx context.Context, hash string) (*AuthSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	now := time.Now()
	for _, s := range m.sessions {
		if s.RefreshHash == hash && s.ExpiresAt.After(now) {
			result := *s
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteAuthSession removes a grant.
func (m *MockStore) DeleteAuthSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}
	delete(m.sessions, id)
	return nil
}

// DeleteExpiredAuthSessions removes expired grants.
func (m *MockStore) DeleteExpiredAuthSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}
	now := time.Now()
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
		}
	}
	return nil
}

// ListRecords returns the owner's records newest first.
func (m *MockStore) ListRecords(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	var out []*record.Record
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Category == c {
			out = append(out, r.Clone())
		}
	}
	record.SortNewestFirst(out)
	return f.Apply(out), nil
}

// GetRecord retrieves one of the owner's records.
func (m *MockStore) GetRecord(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	r, ok := m.records[recordKey(ownerID, c, id)]
	if !ok || r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// InsertRecord stores a record, assigning ID and timestamps when unset.
func (m *MockStore) InsertRecord(ctx context.Context, r *record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, exists := m.records[recordKey(r.OwnerID, r.Category, r.ID)]; exists {
		return ErrDuplicateRecord
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Version == 0 {
		r.Version = 1
	}
	m.records[recordKey(r.OwnerID, r.Category, r.ID)] = r.Clone()
	return nil
}

// UpdateRecord merges patch into the owner's record.
func (m *MockStore) UpdateRecord(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	r, ok := m.records[recordKey(ownerID, c, id)]
	if !ok || r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	r.Merge(patch)
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return r.Clone(), nil
}

// DeleteRecord removes one of the owner's records.
func (m *MockStore) DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}

	r, ok := m.records[recordKey(ownerID, c, id)]
	if !ok || r.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.records, recordKey(ownerID, c, id))
	return nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrMockUnavailable
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns the owner's entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrMockUnavailable
	}

	entries := []AuditEntry{}
	for _, e := range m.audit {
		if e.OwnerID != f.OwnerID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit := normalizeAuditLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping fails while the mock is marked unavailable.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return ErrMockUnavailable
	}
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
