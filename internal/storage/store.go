// Package storage provides the durable key-value stores that hold recovery
// snapshots, curation drafts, cached lookups and persisted room images.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned when a value does not fit the store's
	// limits. Callers are expected to shrink the value and retry.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrInvalidKey    = errors.New("invalid storage key")
)

// Meta describes a stored value without its payload.
type Meta struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}

// Store is a durable key-value store. Keys are slash separated
// ("session-recovery/user-1").
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Meta, error)
	Close() error
}

// Key joins key segments with slashes.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// ValidateKey rejects empty keys and keys that could escape a directory.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
