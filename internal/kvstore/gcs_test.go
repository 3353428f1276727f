package kvstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	writeErr error
	// vanishAfterConflict drops the object right after a failed create, so the
	// follow-up read misses it once.
	vanishAfterConflict bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (f *fakeBucket) read(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeBucket) write(ctx context.Context, name string, data []byte, ifAbsent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if _, ok := f.objects[name]; ok && ifAbsent {
		if f.vanishAfterConflict {
			delete(f.objects, name)
			f.vanishAfterConflict = false
		}
		return errObjectExists
	}
	f.objects[name] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBucket) delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func TestGCSStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	store := newGCSStore(bucket, "tfstate")

	_, err := store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "state::/envs/prod", []byte(`{"v":1}`)))
	assert.Contains(t, bucket.objects, "tfstate/state::%2Fenvs%2Fprod")

	got, err := store.Get(ctx, "state::/envs/prod")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, store.Delete(ctx, "state::/envs/prod"))
	_, err = store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGCSStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newGCSStore(newFakeBucket(), "")

	existing, created, err := store.SetIfAbsent(ctx, "lock::/a", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, existing)

	existing, created, err = store.SetIfAbsent(ctx, "lock::/a", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []byte("first"), existing)
}

func TestGCSStore_SetIfAbsentRetriesWhenHolderVanishes(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	store := newGCSStore(bucket, "")

	require.NoError(t, store.Set(ctx, "lock::/a", []byte("stale")))
	bucket.vanishAfterConflict = true

	_, created, err := store.SetIfAbsent(ctx, "lock::/a", []byte("fresh"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Get(ctx, "lock::/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func TestGCSStore_PropagatesErrors(t *testing.T) {
	bucket := newFakeBucket()
	bucket.writeErr = errors.New("googleapi: Error 403: forbidden")
	store := newGCSStore(bucket, "")

	err := store.Set(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, _, err = store.SetIfAbsent(context.Background(), "k", []byte("v"))
	assert.Error(t, err)
}

func TestGCSStore_CloseWithoutClient(t *testing.T) {
	assert.NoError(t, newGCSStore(newFakeBucket(), "").Close())
}
