// Package sessioncache stores the single live refresh token per subject. The cache is
// the only session state: a missing key means the subject has no session.
package sessioncache

import (
	"context"
	"time"
)

// Cache is a string key/value store with per-entry TTL.
type Cache interface {
	// Set stores value under key, replacing any previous value, and expires it after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key. ok is false when the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Delete removes key. existed reports whether there was anything to remove.
	Delete(ctx context.Context, key string) (existed bool, err error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// RefreshTokenKey is the cache key holding the refresh token of subjectID.
func RefreshTokenKey(subjectID string) string {
	return "refresh_token:" + subjectID
}
