// Package access is the unified data access layer used by every client
// surface.
//
// A Facade resolves the owner through the session provider and routes each
// operation:
//
//   - The demo owner is served from the local store only, so demo data never
//     reaches a real owner's remote rows.
//   - Everyone else hits the remote store first. A record.ErrStoreUnavailable
//     answer falls back to the local store with a WARN log, a span event and
//     an access.fallback counter increment. Not-found, validation and
//     unauthorized answers are returned as they are.
//   - Create and Update validate their input before any store is called.
//   - Delete is attempted on both stores.
//   - List never merges stores; one store answers each call.
package access
