// Package ratelimit bounds how often a key (typically a login email) may act
// within a rolling window, either in process memory or shared through Redis.
package ratelimit
