// ABOUTME: Per-owner symmetric encryption of JSON payloads for local persistence
// ABOUTME: AES-128-GCM with a lazily generated key and a versioned envelope

package codec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// KeySize is the length of a generated owner key in bytes.
const KeySize = 16

// envelopeV1 prefixes every ciphertext so the format can be migrated later.
const envelopeV1 = "bw1."

// ErrKeyNotFound is returned by a KeyStore that holds no key for the owner.
var ErrKeyNotFound = errors.New("encryption key not found")

// KeyStore persists raw owner keys.
type KeyStore interface {
	LoadKey(ctx context.Context, ownerID string) ([]byte, error)
	SaveKey(ctx context.Context, ownerID string, key []byte) error
}

// Codec encrypts and decrypts payloads under per-owner keys.
type Codec struct {
	keys   KeyStore
	mu     sync.Mutex
	cache  map[string]cipher.AEAD
	logger *slog.Logger
}

// New creates a Codec that loads and saves keys through ks.
func New(ks KeyStore) *Codec {
	return &Codec{
		keys:   ks,
		cache:  make(map[string]cipher.AEAD),
		logger: slog.Default().With("component", "codec"),
	}
}

// Encrypt marshals payload to JSON and seals it under the owner's key,
// creating the key on first use.
func (c *Codec) Encrypt(ctx context.Context, payload any, ownerID string) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	aead, err := c.aead(ctx, ownerID, true)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(ownerID))
	return envelopeV1 + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens blob under the owner's key and returns the JSON payload.
// Corrupt input, a foreign key or a missing key all yield ErrDecryption.
func (c *Codec) Decrypt(ctx context.Context, blob, ownerID string) (json.RawMessage, error) {
	if !strings.HasPrefix(blob, envelopeV1) {
		return nil, fmt.Errorf("%w: unknown envelope", record.ErrDecryption)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(blob, envelopeV1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrDecryption, err)
	}

	aead, err := c.aead(ctx, ownerID, false)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no key for owner", record.ErrDecryption)
	}
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", record.ErrDecryption)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(ownerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrDecryption, err)
	}
	return json.RawMessage(plaintext), nil
}

// DecryptInto decrypts blob and unmarshals the payload into out.
func (c *Codec) DecryptInto(ctx context.Context, blob, ownerID string, out any) error {
	raw, err := c.Decrypt(ctx, blob, ownerID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", record.ErrDecryption, err)
	}
	return nil
}

// Forget drops the owner's key from memory. The persisted key is untouched.
func (c *Codec) Forget(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, ownerID)
}

func (c *Codec) aead(ctx context.Context, ownerID string, create bool) (cipher.AEAD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.cache[ownerID]; ok {
		return a, nil
	}

	key, err := c.keys.LoadKey(ctx, ownerID)
	switch {
	case errors.Is(err, ErrKeyNotFound) && create:
		key = make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		if err := c.keys.SaveKey(ctx, ownerID, key); err != nil {
			return nil, fmt.Errorf("saving key: %w", err)
		}
		c.logger.Debug("generated encryption key", "owner", ownerID)
	case err != nil:
		return nil, err
	}

	a, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	c.cache[ownerID] = a
	return a, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
