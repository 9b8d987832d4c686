// Package upload moves video bytes into the object store, choosing a single
// PUT or a multipart upload by file size.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airfobrien/tennispro-sub000/internal/storage"
)

// Static errors for upload validation. These are returned before any backend
// call is made.
var (
	// ErrKeyRequired is returned when no target key is given.
	ErrKeyRequired = errors.New("upload: key is required")
	// ErrBodyRequired is returned when no body is given.
	ErrBodyRequired = errors.New("upload: body is required")
	// ErrInvalidSize is returned for a non-positive file size.
	ErrInvalidSize = errors.New("upload: file size must be positive")
	// ErrFileTooLarge is returned for files above MaxMultipartFileSize.
	ErrFileTooLarge = errors.New("upload: file exceeds maximum size")
	// ErrBelowMultipartMinimum is returned when multipart is requested for a
	// file smaller than MinMultipartSize.
	ErrBelowMultipartMinimum = errors.New("upload: file is below the multipart minimum")
	// ErrInvalidPartSize is returned when the configured part size is below MinMultipartSize.
	ErrInvalidPartSize = errors.New("upload: part size is below the multipart minimum")
)

// IsValidation reports whether err is a caller-correctable validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrKeyRequired) ||
		errors.Is(err, ErrBodyRequired) ||
		errors.Is(err, ErrInvalidSize) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrBelowMultipartMinimum)
}

// Input describes one file to upload.
type Input struct {
	// Key is the destination object key.
	Key string
	// ContentType is stored with the object.
	ContentType string
	// Body is read in independent ranges, concurrently for multipart uploads.
	Body io.ReaderAt
	// Size is the number of bytes of Body to upload.
	Size int64
	// Progress is optional.
	Progress ProgressFunc
}

// Result describes a finished upload.
type Result struct {
	Key       string
	Size      int64
	Parts     int
	Multipart bool
	// UploadID is the backend multipart session, empty for single PUTs.
	UploadID string
	// Location is the object location reported by the backend, if any.
	Location string
}

// Manager uploads files to a storage backend. It keeps no per-upload state
// and is safe for concurrent use.
type Manager struct {
	backend      storage.Backend
	partSize     int64
	concurrency  int
	abortTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPartSize sets the multipart part size.
func WithPartSize(size int64) Option {
	return func(m *Manager) {
		m.partSize = size
	}
}

// WithMaxConcurrentParts sets how many parts may be in flight at once.
// Non-positive values keep the default.
func WithMaxConcurrentParts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithAbortTimeout bounds the abort call issued after a failed multipart upload.
func WithAbortTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.abortTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager for backend.
func NewManager(backend storage.Backend, opts ...Option) (*Manager, error) {
	m := &Manager{
		backend:      backend,
		partSize:     DefaultPartSize,
		concurrency:  MaxConcurrentParts,
		abortTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.partSize < MinMultipartSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPartSize, m.partSize)
	}

	return m, nil
}

// PartSize returns the configured part size.
func (m *Manager) PartSize() int64 {
	return m.partSize
}

// Upload stores in.Body under in.Key, using a multipart upload when the file
// is at least MinMultipartSize.
func (m *Manager) Upload(ctx context.Context, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	if !ShouldUseMultipart(in.Size) {
		return m.uploadSingle(ctx, in)
	}
	return m.uploadMultipart(ctx, in)
}

// UploadMultipart forces a multipart upload. Files below MinMultipartSize are rejected.
func (m *Manager) UploadMultipart(ctx context.Context, in Input) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if in.Size < MinMultipartSize {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrBelowMultipartMinimum, in.Size, MinMultipartSize)
	}
	return m.uploadMultipart(ctx, in)
}

func validate(in Input) error {
	if in.Key == "" {
		return ErrKeyRequired
	}
	if in.Body == nil {
		return ErrBodyRequired
	}
	if in.Size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, in.Size)
	}
	if in.Size > MaxMultipartFileSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, in.Size, MaxMultipartFileSize)
	}
	return nil
}

func (m *Manager) uploadSingle(ctx context.Context, in Input) (*Result, error) {
	body := io.NewSectionReader(in.Body, 0, in.Size)
	if err := m.backend.PutObject(ctx, in.Key, body, in.Size, in.ContentType); err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	m.logger.Info("uploaded object",
		slog.String("key", in.Key),
		slog.Int64("size", in.Size),
	)

	if in.Progress != nil {
		if err := in.Progress(Progress{
			PartNumber:    1,
			TotalParts:    1,
			UploadedBytes: in.Size,
			TotalBytes:    in.Size,
			Percentage:    100,
		}); err != nil {
			m.logger.Warn("progress callback failed after object was stored",
				slog.String("key", in.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	return &Result{Key: in.Key, Size: in.Size, Parts: 1}, nil
}

func (m *Manager) uploadMultipart(ctx context.Context, in Input) (*Result, error) {
	uploadID, err := m.backend.CreateMultipartUpload(ctx, in.Key, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("open multipart upload: %w", err)
	}

	totalParts := PartCount(in.Size, m.partSize)
	s := newSession(in.Key, uploadID, totalParts, in.Size)

	m.logger.Info("multipart upload started",
		slog.String("key", in.Key),
		slog.String("upload_id", uploadID),
		slog.Int64("size", in.Size),
		slog.Int("parts", totalParts),
	)

	if err := m.transfer(ctx, s, in); err != nil {
		m.abort(ctx, s, err)
		return nil, err
	}

	parts := s.completedParts()
	if len(parts) != totalParts {
		err := fmt.Errorf("upload: recorded %d of %d parts", len(parts), totalParts)
		m.abort(ctx, s, err)
		return nil, err
	}

	location, err := m.backend.CompleteMultipartUpload(ctx, in.Key, uploadID, parts)
	if err != nil {
		err = fmt.Errorf("complete multipart upload: %w", err)
		m.abort(ctx, s, err)
		return nil, err
	}

	m.logger.Info("multipart upload completed",
		slog.String("key", in.Key),
		slog.String("upload_id", uploadID),
		slog.Int("parts", len(parts)),
	)

	return &Result{
		Key:       in.Key,
		Size:      in.Size,
		Parts:     len(parts),
		Multipart: true,
		UploadID:  uploadID,
		Location:  location,
	}, nil
}

// transfer uploads every part with at most m.concurrency in flight. The first
// failure cancels the parts still running.
func (m *Manager) transfer(ctx context.Context, s *session, in Input) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for part := range Partition(in.Size, m.partSize) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			body := io.NewSectionReader(in.Body, part.Offset, part.Size)
			etag, err := m.backend.UploadPart(gctx, s.key, s.uploadID, int32(part.Number), body, part.Size) // #nosec G115 - bounded part count
			if err != nil {
				return fmt.Errorf("upload part %d: %w", part.Number, err)
			}

			m.logger.Debug("part uploaded",
				slog.String("upload_id", s.uploadID),
				slog.Int("part", part.Number),
				slog.Int64("size", part.Size),
			)

			if err := s.record(part, etag, in.Progress); err != nil {
				return fmt.Errorf("progress callback: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upload cancelled: %w", err)
	}
	return nil
}

// abort releases the backend session once. It runs on a context detached from
// the caller so a cancelled upload is still cleaned up. Abort failures are
// logged and never replace cause.
func (m *Manager) abort(ctx context.Context, s *session, cause error) {
	s.abortOnce.Do(func() {
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.abortTimeout)
		defer cancel()

		m.logger.Warn("aborting multipart upload",
			slog.String("key", s.key),
			slog.String("upload_id", s.uploadID),
			slog.String("cause", cause.Error()),
		)

		if err := m.backend.AbortMultipartUpload(abortCtx, s.key, s.uploadID); err != nil {
			m.logger.Warn("abort multipart upload failed",
				slog.String("key", s.key),
				slog.String("upload_id", s.uploadID),
				slog.String("error", err.Error()),
			)
		}
	})
}
