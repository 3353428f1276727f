// Package state stores one opaque payload per state path.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/diggerhq/digger/statebackend/internal/kvstore"
)

// Prefix namespaces state objects in the key-value store.
const Prefix = "state::"

var ErrNotFound = errors.New("state not found")

type Store struct {
	kv kvstore.Store
}

func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func Key(path string) string {
	return Prefix + path
}

// Read returns ErrNotFound when nothing, or an empty payload, is stored at path.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := s.kv.Get(ctx, Key(path))
	if errors.Is(err, kvstore.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	return data, nil
}

// Write replaces whatever is stored at path.
func (s *Store) Write(ctx context.Context, path string, payload []byte) error {
	if err := s.kv.Set(ctx, Key(path), payload); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.kv.Delete(ctx, Key(path)); err != nil {
		return fmt.Errorf("delete state %s: %w", path, err)
	}
	return nil
}
