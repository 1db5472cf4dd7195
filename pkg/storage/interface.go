// Package storage keeps versioned values in memory and connects them to
// the replication path: local writes are pushed to a replica, and frames
// received from other nodes are applied with their vector clocks.
package storage

import (
	"errors"

	"github.com/tripab/replicanode/pkg/versioning"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrStorageClosed = errors.New("storage closed")
)

// Storage defines the interface for storage engines
type Storage interface {
	// Get retrieves all concurrent versions of a key
	Get(key string) ([]versioning.VersionedValue, error)

	// Put stores a version of a key, dropping versions it dominates
	Put(key string, value versioning.VersionedValue) error

	Delete(key string) error

	// GetAllKeys returns all keys in sorted order
	GetAllKeys() ([]string, error)

	Close() error
}

// NewStorage creates a storage engine of the specified type. Only the
// in-memory engine exists; counters and values restart empty.
func NewStorage(engineType string) (Storage, error) {
	switch engineType {
	case "", "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, errors.New("unknown storage engine: " + engineType)
	}
}
