// Package kvstore provides the key-value stores that hold checkpoints and run output.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("key not found")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrEmptyKey       = errors.New("empty key")
	ErrClosed         = errors.New("store closed")
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendDir    = "dir"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// DefaultNamespace groups keys when the caller does not choose one.
const DefaultNamespace = "default"

const dirPerm = 0o750

// Store is a namespaced byte-oriented key-value store.
type Store interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys in ascending order.
	Keys(ctx context.Context) ([]string, error)
	// Close releases resources held by the store.
	Close() error
}

// Backends returns the names accepted by Open.
func Backends() []string {
	return []string{BackendMemory, BackendDir, BackendBolt, BackendSQLite}
}

// Open creates a store for backend. location is a directory for "dir" and a
// database file for "bolt" and "sqlite"; it is ignored for "memory".
func Open(backend, location, namespace string) (Store, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendDir:
		return NewDirStore(filepath.Join(location, namespace))
	case BackendBolt:
		err := ensureParent(location)
		if err != nil {
			return nil, err
		}

		return OpenBolt(location, namespace)
	case BackendSQLite:
		err := ensureParent(location)
		if err != nil {
			return nil, err
		}

		return OpenSQLite(location, namespace)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// DefaultLocation returns the default location for backend under baseDir.
func DefaultLocation(backend, baseDir string) string {
	switch backend {
	case BackendBolt:
		return filepath.Join(baseDir, "checkpoints.bolt")
	case BackendSQLite:
		return filepath.Join(baseDir, "checkpoints.sqlite")
	default:
		return baseDir
	}
}

func ensureParent(path string) error {
	err := os.MkdirAll(filepath.Dir(path), dirPerm)
	if err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	return nil
}
