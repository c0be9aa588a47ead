package memstore

import (
	"context"
	"strings"
)

// Persistence limits enforced by the pg schema
const (
	MaxNamespaceLen = 128
	MaxNameLen      = 256
)

// Logger interface for store operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Store is the persistence surface workflow drivers program against.
// Get returns nil for missing keys. Values are anything JSON-serializable;
// list and map shapes round-trip unchanged.
type Store interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
	Clear(ctx context.Context) error
	Backend() string
}

// backend is a single storage tier. The selector also needs liveness
// probing and full enumeration for upgrade migration.
type backend interface {
	Store
	Available(ctx context.Context) bool
	Entries(ctx context.Context) (map[string]interface{}, error)
}

// Key builds the canonical storage key from a namespace and name
func Key(namespace, name string) string {
	return namespace + ":" + name
}

// SplitKey reverses Key. Keys with no namespace separator land in the
// "default" namespace.
func SplitKey(key string) (namespace, name string) {
	if idx := strings.Index(key, ":"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return "default", key
}
