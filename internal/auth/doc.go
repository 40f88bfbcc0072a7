// Package auth provides authentication for the blvckwall gateway.
//
// # Access Tokens
//
// Portal users authenticate with HS256 JWT access tokens signed with the
// configured jwt_secret (at least 32 bytes). The subject is the owner ID and
// an email claim rides along. Tokens are accepted from either:
//
//   - the Authorization header: "Bearer <token>"
//   - the bw_session cookie set by the login and refresh endpoints
//
// # Refresh Tokens
//
// Refresh tokens are 32 random bytes, base64url encoded. Only their SHA-256
// hex digest is persisted; every refresh rotates the token.
//
// # Credential Policy
//
// ValidateCredentials enforces a plain email address and a password of at
// least 8 characters with an uppercase letter and a digit. All violations
// are reported together as a record.ValidationError.
//
// # HTTP Middleware
//
//	HTTPAuthMiddleware(users, issuer)     // 401 unless authenticated
//	OptionalAuthMiddleware(users, issuer) // anonymous requests pass through
//
// Handlers read the caller with FromContext(r.Context()).
package auth
