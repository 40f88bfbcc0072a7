// ABOUTME: Tests for credential policy and password hashing
// ABOUTME: Every violation is reported together, hashing round trips

package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		want     []string
	}{
		{name: "valid", email: "ada@example.com", password: "Sup3rSecret"},
		{name: "bad email", email: "ada", password: "Sup3rSecret", want: []string{"email"}},
		{name: "display name form", email: "Ada <ada@example.com>", password: "Sup3rSecret", want: []string{"email"}},
		{name: "no tld", email: "ada@localhost", password: "Sup3rSecret", want: []string{"email"}},
		{name: "short password", email: "ada@example.com", password: "Ab1", want: []string{"password"}},
		{name: "no uppercase", email: "ada@example.com", password: "lowercase1", want: []string{"password"}},
		{name: "no digit", email: "ada@example.com", password: "NoDigitsHere", want: []string{"password"}},
		{name: "both bad", email: "", password: "", want: []string{"email", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.email, tt.password)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var verr *record.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.want, verr.Fields())
		})
	}
}

func TestValidateCredentials_ListsEveryPasswordRule(t *testing.T) {
	err := ValidateCredentials("ada@example.com", "abc")
	var verr *record.ValidationError
	require.True(t, errors.As(err, &verr))
	msg := verr.Violations[0].Message
	assert.Contains(t, msg, "8 characters")
	assert.Contains(t, msg, "uppercase")
	assert.Contains(t, msg, "digit")
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "Sup3rSecret"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "Sup3rSecret"))
}
