package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// writerMetadataKey carries the publishing replica's id as S3 user
// metadata, for operators inspecting the bucket.
const writerMetadataKey = "Writer"

// S3Config holds the settings for an S3-compatible snapshot store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// s3API defines the minimal S3 operations used by S3Store.
// This interface enables testing with mock implementations.
type s3API interface {
	getObject(ctx context.Context, bucket, key string) ([]byte, minio.ObjectInfo, error)
	putObject(ctx context.Context, bucket, key string, payload []byte, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	removeObject(ctx context.Context, bucket, key string) error
}

// minioAPI wraps *minio.Client to satisfy the s3API interface.
// The wrapper is needed because minio.Client's GetObject returns a
// lazily-read stream rather than the payload itself.
type minioAPI struct {
	client *minio.Client
}

func (m *minioAPI) getObject(ctx context.Context, bucket, key string) ([]byte, minio.ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	payload, err := io.ReadAll(obj)
	if err != nil {
		return nil, minio.ObjectInfo{}, err
	}
	return payload, info, nil
}

func (m *minioAPI) putObject(ctx context.Context, bucket, key string, payload []byte, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucket, key, bytes.NewReader(payload), int64(len(payload)), opts)
}

func (m *minioAPI) removeObject(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// S3Store publishes snapshots to S3-compatible storage. Conditional puts
// use the object's ETag as the version tag: If-None-Match for create-only
// writes and If-Match for replacements, so concurrent publishers cannot
// silently overwrite each other.
type S3Store struct {
	client s3API
	bucket string
}

// NewS3Store creates a Store backed by an S3-compatible bucket.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return &S3Store{client: &minioAPI{client: client}, bucket: cfg.Bucket}, nil
}

// Get fetches the record at key.
func (s *S3Store) Get(ctx context.Context, key string) (*Record, error) {
	payload, info, err := s.client.getObject(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", key, classify(err))
	}
	return &Record{
		Payload:    payload,
		Version:    info.ETag,
		Writer:     info.UserMetadata[writerMetadataKey],
		ModifiedAt: info.LastModified,
	}, nil
}

// Put writes payload at key, conditioned on expectedVersion (see Store.Put).
func (s *S3Store) Put(ctx context.Context, key string, payload []byte, writer string, expectedVersion string) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{writerMetadataKey: writer},
	}
	if expectedVersion == "" {
		// Create-only: refuse if any object already exists under the key.
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(expectedVersion)
	}

	info, err := s.client.putObject(ctx, s.bucket, key, payload, opts)
	if err != nil {
		return "", fmt.Errorf("publish %q: %w", key, classify(err))
	}
	return info.ETag, nil
}

// Delete removes the object at key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.removeObject(ctx, s.bucket, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, classify(err))
	}
	return nil
}

// classify maps S3 errors onto the package's sentinel errors so callers
// never have to understand minio error responses.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Code)
	case "PreconditionFailed":
		return fmt.Errorf("%w: %s", ErrConflict, resp.Code)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, resp.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Unclassified S3 failures are treated as transient.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ Store = (*S3Store)(nil)
var _ Store = (*MemoryStore)(nil)
