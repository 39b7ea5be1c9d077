// Package kv provides the flat key-value backends shared by every execution context.
package kv

import (
	"context"
	"errors"
	"strings"
)

const (
	// CurrentUserKey stores the JSON of the active session record.
	CurrentUserKey = "fineu_current_user"
	// UserKeyPrefix prefixes every per-user obfuscated record.
	UserKeyPrefix = "user_"
)

// ErrNotFound indicates that a key has no value.
var ErrNotFound = errors.New("key not found")

// Backend is a flat string key-value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Change reports a key written or deleted by another execution context.
// Resync is set when earlier changes were dropped and the consumer should reload
// everything it caches.
type Change struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Resync bool   `json:"resync,omitempty"`
}

// Watcher delivers changes made by other execution contexts until ctx is cancelled.
// The returned channel is closed when watching stops.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// UserKey returns the storage key of a user's record.
func UserKey(userID string) string {
	return UserKeyPrefix + userID
}

// IsSessionKey reports whether key belongs to progression state: the active session or a user record.
func IsSessionKey(key string) bool {
	return key == CurrentUserKey || strings.HasPrefix(key, UserKeyPrefix)
}
