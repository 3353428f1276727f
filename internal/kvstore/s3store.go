package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps every entry as one object. Keys are path-escaped so the
// "state::" / "lock::" namespaces map onto distinct object names.
//
// Object layout:
// <prefix>/state::%2Fenvs%2Fprod
// <prefix>/lock::%2Fenvs%2Fprod
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

var (
	_ Store         = (*S3Store)(nil)
	_ AtomicCreator = (*S3Store)(nil)
)

type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string // empty uses the default AWS config chain
	Endpoint string // for S3-compatible storage like MinIO
}

// NewS3Store loads the default AWS configuration and creates an S3-backed store.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	var cli *s3.Client
	if opts.Endpoint != "" {
		cli = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// Force path-style addressing for S3-compatible storage
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "bucket", opts.Bucket, "endpoint", opts.Endpoint)
	} else {
		cli = s3.NewFromConfig(cfg)
		slog.Info("S3 client initialized", "bucket", opts.Bucket, "region", cfg.Region)
	}

	return NewS3StoreFromClient(cli, opts.Bucket, opts.Prefix), nil
}

func NewS3StoreFromClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) objectKey(key string) string {
	escaped := url.PathEscape(key)
	if s.prefix != "" {
		return s.prefix + "/" + escaped
	}
	return escaped
}

func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isS3NotFound(err error) bool {
	// S3 commonly returns these codes for missing objects
	code := s3ErrorCode(err)
	return code == "NotFound" || code == "NoSuchKey"
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object from S3: %w", err)
	}
	return nonNil(body), nil
}

func (s *S3Store) put(ctx context.Context, key string, value []byte, ifAbsent bool) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	}
	if ifAbsent {
		in.IfNoneMatch = aws.String("*")
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

func (s *S3Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.put(ctx, key, value, false); err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// SetIfAbsent uses a conditional PutObject with If-None-Match: *. S3 answers
// 412 PreconditionFailed when the object exists and 409
// ConditionalRequestConflict when a concurrent conditional write is in flight.
func (s *S3Store) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		err := s.put(ctx, key, value, true)
		if err == nil {
			return nil, true, nil
		}

		switch s3ErrorCode(err) {
		case "PreconditionFailed":
			existing, err := s.Get(ctx, key)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		case "ConditionalRequestConflict":
			continue
		default:
			return nil, false, fmt.Errorf("failed to conditionally put object to S3: %w", err)
		}
	}
	return nil, false, fmt.Errorf("s3 conditional put %q: %w", key, errCreateContention)
}

func (s *S3Store) Close() error {
	return nil
}
