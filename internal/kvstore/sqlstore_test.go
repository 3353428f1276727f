package kvstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQL("sqlite", filepath.Join(t.TempDir(), "data", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	_, err := store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "state::/envs/prod", []byte(`{"v":1}`)))
	require.NoError(t, store.Set(ctx, "state::/envs/prod", []byte(`{"v":2}`)))

	got, err := store.Get(ctx, "state::/envs/prod")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	var count int64
	require.NoError(t, store.DB().Model(&Entry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "upsert must not duplicate rows")

	require.NoError(t, store.Delete(ctx, "state::/envs/prod"))
	_, err = store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "state::/envs/prod"))
}

func TestSQLStore_BinaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	payload := []byte{0x00, 0xff, '\n', '"', 0x7f}
	require.NoError(t, store.Set(ctx, "k", payload))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSQLStore_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	require.NoError(t, store.Set(ctx, "k", []byte{}))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	existing, created, err := store.SetIfAbsent(ctx, "lock::/a", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, existing)

	existing, created, err = store.SetIfAbsent(ctx, "lock::/a", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []byte("first"), existing)

	require.NoError(t, store.Delete(ctx, "lock::/a"))
	_, created, err = store.SetIfAbsent(ctx, "lock::/a", []byte("third"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSQLStore_SetIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := store.SetIfAbsent(ctx, "lock::/race", []byte(fmt.Sprintf("%d", i)))
			assert.NoError(t, err)
			if created {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL("oracle", "whatever")
	assert.Error(t, err)
}
