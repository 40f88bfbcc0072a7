// Package gateway orchestrates the blvckwall-gateway server components.
//
// # Overview
//
// The gateway package is the server side of the remote relational store. It
// owns the data store, the JWT issuer, the login rate limiter and the
// provider set, and exposes them over an authenticated HTTP + cookie API.
//
// # HTTP API
//
// Authentication (auth_api.go):
//
//   - POST /api/auth/signup - Create an account and a session
//   - POST /api/auth/login - Exchange credentials for a session (rate limited per email)
//   - POST /api/auth/refresh - Rotate a refresh token
//   - POST /api/auth/logout - Revoke a refresh token and clear the cookie
//   - GET /api/auth/me - Current owner
//
// Records (records_api.go), scoped to the authenticated owner:
//
//   - GET /api/records/{category} - List, newest first; field=value filters and limit
//   - POST /api/records/{category} - Create
//   - GET|PATCH|DELETE /api/records/{category}/{id}
//   - GET /api/records/knowledge_bases/{id}/preview - Markdown content as HTML
//
// Provider actions (actions_api.go) each validate input, call one provider,
// write one record and append one audit entry:
//
//   - POST /api/actions/calls
//   - POST /api/actions/speech
//   - POST /api/actions/videos
//   - POST /api/actions/translations
//   - POST /api/actions/cards
//
// Audit and health:
//
//   - GET /api/audit - The caller's audit log
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//
// # Errors
//
// Every error body has the shape:
//
//	{"error": "validation failed", "kind": "validation", "violations": [{"field": "name", "message": "is required"}]}
//
// Kinds map to statuses: validation 422, not_found 404, unauthorized 401,
// rate_limited 429 (with Retry-After), store_unavailable 503, provider 502.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
package gateway
