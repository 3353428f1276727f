package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/diggerhq/digger/statebackend/internal/kvstore"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockKV) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockKV) Close() error { return nil }

func TestReadNeverWritten(t *testing.T) {
	s := New(kvstore.NewMemStore())
	_, err := s.Read(context.Background(), "/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemStore())

	payloads := [][]byte{
		[]byte(`{"v":1}`),
		[]byte("not json at all"),
		{0x00, 0x01, 0xfe, 0xff},
	}
	for _, p := range payloads {
		require.NoError(t, s.Write(ctx, "/envs/prod", p))
		got, err := s.Read(ctx, "/envs/prod")
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestDeleteThenRead(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemStore())

	// never written
	require.NoError(t, s.Delete(ctx, "/a"))
	_, err := s.Read(ctx, "/a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "/a", []byte("x")))
	require.NoError(t, s.Delete(ctx, "/a"))
	_, err = s.Read(ctx, "/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyPayloadReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := New(kvstore.NewMemStore())

	require.NoError(t, s.Write(ctx, "/a", []byte{}))
	_, err := s.Read(ctx, "/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsesStateNamespace(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemStore()
	s := New(kv)

	require.NoError(t, s.Write(ctx, "/envs/prod", []byte("x")))
	got, err := kv.Get(ctx, "state::/envs/prod")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	_, err = kv.Get(ctx, "lock::/envs/prod")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestStoreFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	kv := new(mockKV)
	kv.On("Get", mock.Anything, "state::/a").Return(nil, boom)
	kv.On("Set", mock.Anything, "state::/a", []byte("x")).Return(boom)
	kv.On("Delete", mock.Anything, "state::/a").Return(boom)
	s := New(kv)

	_, err := s.Read(ctx, "/a")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, s.Write(ctx, "/a", []byte("x")), boom)
	assert.ErrorIs(t, s.Delete(ctx, "/a"), boom)

	kv.AssertExpectations(t)
}
