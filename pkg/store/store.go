package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks errors caused by the shared store being unreachable.
// Callers must treat it as "unknown", never as "absent".
var ErrUnavailable = errors.New("keyed store unavailable")

// ExpirationHandler receives the name of every key whose TTL elapsed.
type ExpirationHandler func(ctx context.Context, key string)

// KeyedStore is the shared, cross-instance key/value store.
type KeyedStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining time to live. A key without expiry reports zero.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// GetSet atomically replaces the value and returns the previous one.
	GetSet(ctx context.Context, key, value string) (string, bool, error)
	// SetIfAbsent writes value only when key does not exist and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SubscribeExpirations delivers expired key names to handler until ctx is cancelled.
	SubscribeExpirations(ctx context.Context, handler ExpirationHandler) error
	// Reconnect replaces the underlying connection after a transient failure.
	Reconnect(ctx context.Context) error
	Close() error
}
