// Package session manages the signed-in owner on a client device.
//
// A Provider moves through Unauthenticated, Authenticating, Authenticated,
// Refreshing and Expired. Login validates credentials locally and applies a
// per-email attempt limit before the backend is contacted; the attempts are
// kept in the local store so the limit holds across restarts. A session that
// expires within the refresh window is refreshed once on the next owner
// lookup; if that fails the device is signed out.
//
// Logout evicts the owner's encryption key from memory but leaves the
// persisted key and local records in place, so the same owner can sign in
// again and read them. ClearLocalData removes both.
package session
