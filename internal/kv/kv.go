// Package kv provides the key-value storage backends for persisted state.
package kv

// Store is a minimal key-value interface. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key. The second return reports whether
	// the key exists.
	Get(key string) ([]byte, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases any resources held by the store.
	Close() error
}
