// Package store provides server-side persistence for the gateway.
//
// # Architecture
//
// A single Store interface covers users, refresh sessions, owner-scoped
// records and the compliance audit log. SQLStore implements it on
// database/sql with two dialects:
//
//   - sqlite: modernc.org/sqlite, a file path DSN, WAL mode and foreign keys on
//   - postgres: the pgx stdlib driver, placeholders rewritten from ? to $n
//
// The schema is portable between the two: timestamps are stored as
// fixed-width UTC TEXT so that ORDER BY on them is chronological.
//
// # Ownership
//
// Every record query filters by owner_id. A record that exists under a
// different owner is indistinguishable from a missing one and yields
// ErrNotFound.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist (same value as record.ErrNotFound)
//   - ErrEmailExists: signup with a registered email
//   - ErrDuplicateRecord: insert with an id the owner already uses in the category
//
// # Testing
//
// Use NewMockStore() for handler tests; SetUnavailable(true) simulates an
// unreachable database. Use NewSQLiteStore on a temp dir for integration tests.
package store
