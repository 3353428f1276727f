package kvstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket that honours If-None-Match: *.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = b
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StoreFromClient(fake, "bucket", "/tfstate/")

	_, err := store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "state::/envs/prod", []byte(`{"v":1}`)))
	assert.Equal(t, []string{"tfstate/state::%2Fenvs%2Fprod"}, fake.puts)

	got, err := store.Get(ctx, "state::/envs/prod")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, store.Delete(ctx, "state::/envs/prod"))
	_, err = store.Get(ctx, "state::/envs/prod")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_NamespacesDoNotCollide(t *testing.T) {
	store := NewS3StoreFromClient(newFakeS3(), "bucket", "")
	assert.NotEqual(t, store.objectKey("state::/a"), store.objectKey("lock::/a"))
	assert.NotEqual(t, store.objectKey("state::/a/b"), store.objectKey("state::/a%2Fb"))
}

func TestS3Store_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewS3StoreFromClient(newFakeS3(), "bucket", "")

	existing, created, err := store.SetIfAbsent(ctx, "lock::/a", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, existing)

	existing, created, err = store.SetIfAbsent(ctx, "lock::/a", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []byte("first"), existing)
}

// mockS3 is used where a failing client is easier to express with expectations.
type mockS3 struct {
	mock.Mock
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, aws.ToString(in.Key))
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, aws.ToString(in.Key))
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, aws.ToString(in.Key))
	out, _ := args.Get(0).(*s3.DeleteObjectOutput)
	return out, args.Error(1)
}

func TestS3Store_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}

	m := new(mockS3)
	m.On("GetObject", mock.Anything, "k").Return(nil, denied)
	m.On("PutObject", mock.Anything, "k").Return(nil, denied)
	m.On("DeleteObject", mock.Anything, "k").Return(nil, denied)
	store := NewS3StoreFromClient(m, "bucket", "")

	_, err := store.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "AccessDenied")

	assert.Error(t, store.Set(ctx, "k", []byte("v")))
	assert.Error(t, store.Delete(ctx, "k"))

	_, _, err = store.SetIfAbsent(ctx, "k", []byte("v"))
	assert.Error(t, err)

	m.AssertExpectations(t)
}

func TestS3Store_SetIfAbsentRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	conflict := &smithy.GenericAPIError{Code: "ConditionalRequestConflict"}

	m := new(mockS3)
	m.On("PutObject", mock.Anything, "k").Return(nil, conflict).Once()
	m.On("PutObject", mock.Anything, "k").Return(&s3.PutObjectOutput{}, nil).Once()
	store := NewS3StoreFromClient(m, "bucket", "")

	_, created, err := store.SetIfAbsent(ctx, "k", []byte("v"))
	require.NoError(t, err)
	assert.True(t, created)
	m.AssertExpectations(t)
}
