// ABOUTME: Device-local durable store of encrypted values namespaced by owner and category
// ABOUTME: Also persists each owner's encryption key so it doubles as the codec's KeyStore

package localstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blvckwall/blvckwall-gateway/internal/codec"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// DefaultPrefix namespaces every owner key this store writes.
const DefaultPrefix = "blvckwall_"

// metaSegment holds per-owner material that is not a record category.
const (
	metaSegment = "meta"
	keyMaterial = "encryption_key"
)

// Store is the local half of the data access layer.
type Store struct {
	backend Backend
	prefix  string
	codec   *codec.Codec
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock overrides time.Now for assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger.With("component", "localstore") }
}

// New wraps backend in an encrypting Store.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		prefix:  DefaultPrefix,
		logger:  slog.Default().With("component", "localstore"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = codec.New(s)
	return s
}

// Backend returns the underlying key-value backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Set encrypts value under the owner's key and stores it.
func (s *Store) Set(ctx context.Context, ownerID, category, key string, value any) error {
	blob, err := s.codec.Encrypt(ctx, value, ownerID)
	if err != nil {
		return record.Unavailable("local", err)
	}
	if err := s.backend.Set(ctx, s.compositeKey(ownerID, category, key), blob); err != nil {
		return record.Unavailable("local", err)
	}
	return nil
}

// Get decrypts the stored value into out. It reports false when the value is
// absent or cannot be decrypted; decryption failures are logged, not returned.
func (s *Store) Get(ctx context.Context, ownerID, category, key string, out any) (bool, error) {
	blob, ok, err := s.backend.Get(ctx, s.compositeKey(ownerID, category, key))
	if err != nil {
		return false, record.Unavailable("local", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.codec.DecryptInto(ctx, blob, ownerID, out); err != nil {
		if errors.Is(err, record.ErrDecryption) {
			s.logger.Warn("unreadable local value treated as absent",
				"owner", ownerID, "category", category, "key", key, "error", err)
			return false, nil
		}
		return false, record.Unavailable("local", err)
	}
	return true, nil
}

// Remove deletes a single value. Missing values are not an error.
func (s *Store) Remove(ctx context.Context, ownerID, category, key string) error {
	if err := s.backend.Delete(ctx, s.compositeKey(ownerID, category, key)); err != nil {
		return record.Unavailable("local", err)
	}
	return nil
}

// Clear removes every key under the owner's prefix, key material included.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	keys, err := s.backend.Keys(ctx, s.ownerPrefix(ownerID))
	if err != nil {
		return record.Unavailable("local", err)
	}
	for _, k := range keys {
		if err := s.backend.Delete(ctx, k); err != nil {
			return record.Unavailable("local", err)
		}
	}
	s.codec.Forget(ownerID)
	s.logger.Info("cleared local data", "owner", ownerID, "keys", len(keys))
	return nil
}

// Forget evicts the owner's key from memory without touching stored data.
func (s *Store) Forget(ownerID string) {
	s.codec.Forget(ownerID)
}

// Keys lists the item keys stored for an owner within a category.
func (s *Store) Keys(ctx context.Context, ownerID, category string) ([]string, error) {
	prefix := s.categoryPrefix(ownerID, category)
	full, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, record.Unavailable("local", err)
	}
	out := make([]string, 0, len(full))
	for _, k := range full {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// LoadKey implements codec.KeyStore.
func (s *Store) LoadKey(ctx context.Context, ownerID string) ([]byte, error) {
	v, ok, err := s.backend.Get(ctx, s.compositeKey(ownerID, metaSegment, keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	if !ok {
		return nil, codec.ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key is corrupt", record.ErrDecryption)
	}
	return key, nil
}

// SaveKey implements codec.KeyStore.
func (s *Store) SaveKey(ctx context.Context, ownerID string, key []byte) error {
	return s.backend.Set(ctx, s.compositeKey(ownerID, metaSegment, keyMaterial),
		base64.StdEncoding.EncodeToString(key))
}

// PutRecord stores a new record, assigning an id and created_at when absent.
// A caller-supplied id the owner already uses in the category is rejected with
// the same validation failure the gateway reports.
func (s *Store) PutRecord(ctx context.Context, r *record.Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	} else {
		_, exists, err := s.backend.Get(ctx, s.compositeKey(r.OwnerID, r.Category.String(), r.ID))
		if err != nil {
			return record.Unavailable("local", err)
		}
		if exists {
			return record.NewValidationError(record.Violation{Field: record.KeyID, Message: "already exists"})
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return s.Set(ctx, r.OwnerID, r.Category.String(), r.ID, r)
}

// GetRecord returns the owner's record or record.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error) {
	var r record.Record
	ok, err := s.Get(ctx, ownerID, c.String(), id, &r)
	if err != nil {
		return nil, err
	}
	// a blob that decrypts under this owner but names another owner is not theirs
	if !ok || r.OwnerID != ownerID {
		return nil, fmt.Errorf("local %s/%s: %w", c, id, record.ErrNotFound)
	}
	return &r, nil
}

// ListRecords returns the owner's records in c, newest first, filtered.
func (s *Store) ListRecords(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error) {
	ids, err := s.Keys(ctx, ownerID, c.String())
	if err != nil {
		return nil, err
	}

	records := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		var r record.Record
		ok, err := s.Get(ctx, ownerID, c.String(), id, &r)
		if err != nil {
			return nil, err
		}
		if !ok || r.OwnerID != ownerID {
			continue
		}
		records = append(records, &r)
	}
	record.SortNewestFirst(records)
	return f.Apply(records), nil
}

// UpdateRecord merges patch into the stored record and bumps its version.
func (s *Store) UpdateRecord(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error) {
	r, err := s.GetRecord(ctx, ownerID, c, id)
	if err != nil {
		return nil, err
	}
	r.Merge(patch)
	r.Version++
	r.UpdatedAt = s.now().UTC()
	if err := s.Set(ctx, ownerID, c.String(), id, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRecord removes a record, returning record.ErrNotFound if it was absent.
func (s *Store) DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error {
	key := s.compositeKey(ownerID, c.String(), id)
	_, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return record.Unavailable("local", err)
	}
	if !ok {
		return fmt.Errorf("local %s/%s: %w", c, id, record.ErrNotFound)
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return record.Unavailable("local", err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) ownerPrefix(ownerID string) string {
	return s.prefix + escapeSegment(ownerID) + "_"
}

func (s *Store) categoryPrefix(ownerID, category string) string {
	return s.ownerPrefix(ownerID) + escapeSegment(category) + "_"
}

func (s *Store) compositeKey(ownerID, category, key string) string {
	return s.categoryPrefix(ownerID, category) + key
}

var segmentEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// escapeSegment keeps '_' out of owner and category segments so that one
// owner's prefix can never be a prefix of another's.
func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

var _ codec.KeyStore = (*Store)(nil)
