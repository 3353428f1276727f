package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// errObjectExists is what gcsObjects.write returns when a create-only write
// finds the object already there.
var errObjectExists = errors.New("object already exists")

// gcsObjects narrows a bucket to the three calls the store needs so tests can
// swap in a fake without a GCS emulator.
type gcsObjects interface {
	read(ctx context.Context, name string) ([]byte, error)
	write(ctx context.Context, name string, data []byte, ifAbsent bool) error
	delete(ctx context.Context, name string) error
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) read(ctx context.Context, name string) ([]byte, error) {
	rc, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (b bucketObjects) write(ctx context.Context, name string, data []byte, ifAbsent bool) error {
	obj := b.bucket.Object(name)
	if ifAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	wc := obj.NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return errObjectExists
		}
		return err
	}
	return nil
}

func (b bucketObjects) delete(ctx context.Context, name string) error {
	err := b.bucket.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// GCSStore keeps every entry as one object in a Cloud Storage bucket, using
// the same escaped layout as S3Store.
type GCSStore struct {
	objects gcsObjects
	client  *storage.Client
	prefix  string
}

var (
	_ Store         = (*GCSStore)(nil)
	_ AtomicCreator = (*GCSStore)(nil)
)

type GCSOptions struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a client from Application Default Credentials.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Storage client: %w", err)
	}
	slog.Info("Google Storage client created successfully", "bucket", opts.Bucket)

	store := NewGCSStoreFromBucket(client.Bucket(opts.Bucket), opts.Prefix)
	store.client = client
	return store, nil
}

func NewGCSStoreFromBucket(bucket *storage.BucketHandle, prefix string) *GCSStore {
	return newGCSStore(bucketObjects{bucket: bucket}, prefix)
}

func newGCSStore(objects gcsObjects, prefix string) *GCSStore {
	return &GCSStore{objects: objects, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSStore) objectName(key string) string {
	escaped := url.PathEscape(key)
	if s.prefix != "" {
		return s.prefix + "/" + escaped
	}
	return escaped
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.objects.read(ctx, s.objectName(key))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %q from bucket: %w", key, err)
	}
	return nonNil(data), nil
}

func (s *GCSStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.objects.write(ctx, s.objectName(key), value, false); err != nil {
		return fmt.Errorf("unable to write %q to bucket: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.objects.delete(ctx, s.objectName(key)); err != nil {
		return fmt.Errorf("unable to delete %q from bucket: %w", key, err)
	}
	return nil
}

// SetIfAbsent writes with a DoesNotExist precondition; GCS rejects the upload
// with 412 when the object is already there.
func (s *GCSStore) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		err := s.objects.write(ctx, s.objectName(key), value, true)
		if err == nil {
			return nil, true, nil
		}
		if !errors.Is(err, errObjectExists) {
			return nil, false, fmt.Errorf("unable to create %q in bucket: %w", key, err)
		}

		existing, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("gcs conditional write %q: %w", key, errCreateContention)
}

func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
