// Package storage provides the object-store port used by the upload pipeline
// and its S3-compatible adapters, plus a local temp workspace for files that
// must exist on disk while they are being processed.
package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Static errors for storage operations.
var (
	// ErrBucketRequired is returned when an adapter is built without a bucket name.
	ErrBucketRequired = errors.New("storage: bucket is required")
	// ErrRegionRequired is returned when an adapter is built without a region.
	ErrRegionRequired = errors.New("storage: region is required")
	// ErrNoUploadID is returned when the backend opens a multipart session without an ID.
	ErrNoUploadID = errors.New("storage: backend returned no upload ID")
	// ErrUnknownDriver is returned for an unsupported STORAGE_DRIVER value.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// CompletedPart is one uploaded part of a multipart session.
type CompletedPart struct {
	// PartNumber is the 1-based part index.
	PartNumber int32
	// ETag is the integrity tag the backend returned for the part.
	ETag string
}

// PresignedRequest is a signed request a caller can perform without credentials.
type PresignedRequest struct {
	// URL carries the signature in its query string.
	URL string
	// Method is the HTTP method the signature covers.
	Method string
	// Header lists headers that must be sent exactly as signed.
	Header http.Header
}

// Backend is the object-store protocol consumed by the upload manager and the
// thumbnail worker. Any S3-compatible store satisfies it.
type Backend interface {
	// CreateMultipartUpload opens a multipart session for key and returns its upload ID.
	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)

	// UploadPart uploads one part and returns its ETag.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (etag string, err error)

	// CompleteMultipartUpload assembles the parts into one object. Parts must be
	// sorted ascending by part number.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (location string, err error)

	// AbortMultipartUpload discards a multipart session and its uploaded parts.
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// PutObject writes a whole object in one request.
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// GetObject opens an object for reading. The caller closes the reader.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject removes an object.
	DeleteObject(ctx context.Context, key string) error
}

// Presigner issues time-limited signed requests for one key.
type Presigner interface {
	// PresignPut signs a PUT of exactly contentLength bytes of contentType.
	PresignPut(ctx context.Context, key, contentType string, contentLength int64, expires time.Duration) (PresignedRequest, error)

	// PresignGet signs a GET.
	PresignGet(ctx context.Context, key string, expires time.Duration) (PresignedRequest, error)
}

// ObjectStore is a backend that can also presign requests.
type ObjectStore interface {
	Backend
	Presigner
}
