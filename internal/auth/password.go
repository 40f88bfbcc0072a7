// ABOUTME: Credential policy and bcrypt password hashing
// ABOUTME: Shared by the gateway's signup/login handlers and the client session provider

package auth

import (
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// dummyHash keeps failed lookups as slow as failed comparisons.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ValidateCredentials checks email format and password strength and reports
// every violation at once.
func ValidateCredentials(email, password string) error {
	var violations []record.Violation
	if msg := checkEmail(email); msg != "" {
		violations = append(violations, record.Violation{Field: "email", Message: msg})
	}
	if msg := checkPassword(password); msg != "" {
		violations = append(violations, record.Violation{Field: "password", Message: msg})
	}
	if len(violations) > 0 {
		return record.NewValidationError(violations...)
	}
	return nil
}

func checkEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "is required"
	}
	addr, err := mail.ParseAddress(email)
	// reject display-name forms like "Ada <ada@example.com>"
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "must be a valid email address"
	}
	return ""
}

func checkPassword(password string) string {
	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	var missing []string
	if len([]rune(password)) < MinPasswordLength {
		missing = append(missing, "at least 8 characters")
	}
	if !hasUpper {
		missing = append(missing, "an uppercase letter")
	}
	if !hasDigit {
		missing = append(missing, "a digit")
	}
	if len(missing) == 0 {
		return ""
	}
	return "must contain " + strings.Join(missing, ", ")
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. An empty hash still
// costs one bcrypt comparison so unknown accounts are not distinguishable by timing.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
