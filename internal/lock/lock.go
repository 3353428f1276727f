// Package lock implements the advisory per-path lock of the HTTP backend
// protocol. A path is locked exactly while a lock record exists for it; the
// record's content is opaque and only ever echoed back.
//
// Ownership is not checked: Release removes the record whatever the caller
// sends, and a releasing client need not be the one that acquired.
package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/diggerhq/digger/statebackend/internal/kvstore"
)

// Prefix namespaces lock records in the key-value store.
const Prefix = "lock::"

// ErrLockConflict is returned by Acquire when the path is already locked. The
// record returned alongside it is the current holder's.
var ErrLockConflict = errors.New("state is locked")

type Coordinator struct {
	kv kvstore.Store
	// creator is nil when kv cannot create keys atomically.
	creator kvstore.AtomicCreator
}

// New uses a single conditional create for Acquire when kv implements
// kvstore.AtomicCreator. Otherwise Acquire reads then writes, and two
// concurrent callers that both see the path unlocked can both succeed.
func New(kv kvstore.Store) *Coordinator {
	c := &Coordinator{kv: kv}
	if creator, ok := kv.(kvstore.AtomicCreator); ok {
		c.creator = creator
	}
	return c
}

func Key(path string) string {
	return Prefix + path
}

// Atomic reports whether Acquire is free of the read-then-write race.
func (c *Coordinator) Atomic() bool {
	return c.creator != nil
}

// Acquire stores requested as the lock record for path if none exists and
// returns it. If a record exists it is left untouched and returned together
// with ErrLockConflict.
func (c *Coordinator) Acquire(ctx context.Context, path string, requested []byte) ([]byte, error) {
	if requested == nil {
		requested = []byte{}
	}

	if c.creator != nil {
		existing, created, err := c.creator.SetIfAbsent(ctx, Key(path), requested)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if !created {
			return existing, ErrLockConflict
		}
		return requested, nil
	}

	existing, held, err := c.Holder(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if held {
		return existing, ErrLockConflict
	}
	if err := c.kv.Set(ctx, Key(path), requested); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return requested, nil
}

// Release deletes the lock record for path. The record sent by the caller is
// accepted for protocol symmetry and not compared with the stored one.
func (c *Coordinator) Release(ctx context.Context, path string, _ []byte) error {
	if err := c.kv.Delete(ctx, Key(path)); err != nil {
		return fmt.Errorf("release lock %s: %w", path, err)
	}
	return nil
}

// Holder returns the current lock record and whether path is locked. An empty
// record still counts as held.
func (c *Coordinator) Holder(ctx context.Context, path string) ([]byte, bool, error) {
	record, err := c.kv.Get(ctx, Key(path))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}
