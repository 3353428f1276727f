// Package kvstore holds the key-value adapters the state and lock layers are
// built on. Every adapter offers atomic single-key Get/Set/Delete; adapters
// whose backing store has a create-if-absent primitive also implement
// AtomicCreator.
package kvstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is a flat, string-keyed byte store without transactions.
type Store interface {
	// Get returns ErrNotFound when the key is absent. An empty value that was
	// stored explicitly is returned as an empty, non-nil slice.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// AtomicCreator is implemented by stores that can create a key only if it
// does not exist yet, in one atomic step.
type AtomicCreator interface {
	// SetIfAbsent stores value under key when the key is absent and returns
	// created=true. When the key already exists nothing is written and the
	// current value is returned with created=false.
	SetIfAbsent(ctx context.Context, key string, value []byte) (existing []byte, created bool, err error)
}

// maxCreateAttempts bounds the retry loop adapters use when a key vanishes
// between a failed conditional create and the read of its current value.
const maxCreateAttempts = 5

var errCreateContention = errors.New("key kept changing during conditional create")

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// nonNil normalises a present-but-empty value so callers can tell it apart from absence.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
