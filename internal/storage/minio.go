package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time check that MinioBackend implements ObjectStore.
var _ ObjectStore = (*MinioBackend)(nil)

// MinioConfig holds the configuration for a MinIO (or other S3-compatible) store.
type MinioConfig struct {
	Endpoint        string // host[:port], no scheme
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// MinioBackend implements ObjectStore with minio-go. It talks to the
// multipart API directly through minio.Core so the upload manager keeps
// control of partitioning and concurrency.
type MinioBackend struct {
	core   *minio.Core
	bucket string
}

// NewMinioBackend creates a MinIO client bound to one bucket. The region is
// set explicitly so the client never has to look up the bucket location.
func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}
	if cfg.Region == "" {
		return nil, ErrRegionRequired
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioBackend{core: core, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket this backend writes to.
func (m *MinioBackend) Bucket() string {
	return m.bucket
}

// CreateMultipartUpload opens a multipart session.
func (m *MinioBackend) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	uploadID, err := m.core.NewMultipartUpload(ctx, m.bucket, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload %q: %w", key, err)
	}
	if uploadID == "" {
		return "", ErrNoUploadID
	}
	return uploadID, nil
}

// UploadPart uploads one part of a multipart session.
func (m *MinioBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	part, err := m.core.PutObjectPart(ctx, m.bucket, key, uploadID, int(partNumber), body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("upload part %d of %q: %w", partNumber, key, err)
	}
	return part.ETag, nil
}

// CompleteMultipartUpload assembles the uploaded parts.
func (m *MinioBackend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag}
	}

	info, err := m.core.CompleteMultipartUpload(ctx, m.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload %q: %w", key, err)
	}
	return info.Location, nil
}

// AbortMultipartUpload discards a multipart session.
func (m *MinioBackend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, m.bucket, key, uploadID); err != nil {
		return fmt.Errorf("abort multipart upload %q: %w", key, err)
	}
	return nil
}

// PutObject uploads a whole object.
func (m *MinioBackend) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.core.Client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// GetObject opens an object for reading.
func (m *MinioBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.core.Client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	return obj, nil
}

// DeleteObject removes an object.
func (m *MinioBackend) DeleteObject(ctx context.Context, key string) error {
	if err := m.core.Client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// PresignPut signs a PUT. Content type and length are signed as headers so
// the store rejects a body that differs from what was authorized.
func (m *MinioBackend) PresignPut(ctx context.Context, key, contentType string, contentLength int64, expires time.Duration) (PresignedRequest, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(contentLength, 10))

	u, err := m.core.Client.PresignHeader(ctx, http.MethodPut, m.bucket, key, expires, url.Values{}, header)
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign put %q: %w", key, err)
	}
	return PresignedRequest{URL: u.String(), Method: http.MethodPut, Header: header}, nil
}

// PresignGet signs a GET.
func (m *MinioBackend) PresignGet(ctx context.Context, key string, expires time.Duration) (PresignedRequest, error) {
	u, err := m.core.Client.PresignedGetObject(ctx, m.bucket, key, expires, url.Values{})
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign get %q: %w", key, err)
	}
	return PresignedRequest{URL: u.String(), Method: http.MethodGet, Header: http.Header{}}, nil
}
