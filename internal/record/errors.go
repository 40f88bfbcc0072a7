// ABOUTME: Error taxonomy shared by the facade, stores, session provider and HTTP layer
// ABOUTME: Callers branch on kinds with errors.Is / errors.As, never on messages

package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel kinds. Typed errors below unwrap to one of these.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDecryption       = errors.New("decryption failed")
	ErrRateLimited      = errors.New("rate limited")
)

// Violation describes one invalid or missing field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found, not just the first.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError builds a ValidationError with violations sorted by field.
func NewValidationError(violations ...Violation) *ValidationError {
	v := append([]Violation(nil), violations...)
	sort.SliceStable(v, func(i, j int) bool { return v[i].Field < v[j].Field })
	return &ValidationError{Violations: v}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Fields returns the names of the offending fields in order.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Field
	}
	return out
}

// RateLimitedError reports how long the caller should wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// UnavailableError wraps a transport or backend failure as StoreUnavailable.
type UnavailableError struct {
	Store string
	Err   error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return e.Store + ": store unavailable"
	}
	return fmt.Sprintf("%s: store unavailable: %v", e.Store, e.Err)
}

// Is lets errors.Is match both ErrStoreUnavailable and the wrapped cause.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a StoreUnavailable failure of the named store.
func Unavailable(store string, err error) error {
	return &UnavailableError{Store: store, Err: err}
}

// Kind returns the taxonomy name for err, or "internal" when unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrDecryption):
		return "decryption"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
