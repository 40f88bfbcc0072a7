// Package remote is the client half of the remote relational store.
//
// A Client reaches the gateway over authenticated HTTP. Owner-scoped calls
// (List, Get, Insert, Update, Delete, Action, Audit) require credentials set
// with SetCredentials and refuse to act for any other owner.
//
// Gateway responses are mapped back onto the record error taxonomy:
//
//   - network failures, timeouts and 5xx: record.ErrStoreUnavailable
//   - 400 and 422: *record.ValidationError with the gateway's violations
//   - 401 and 403: record.ErrUnauthorized
//   - 404: record.ErrNotFound
//   - 429: *record.RateLimitedError carrying Retry-After
//
// The access layer relies on this mapping to decide when to fall back to the
// local store.
package remote
