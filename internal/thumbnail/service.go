package thumbnail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/airfobrien/tennispro-sub000/internal/keyspace"
)

// Static errors for thumbnail requests.
var (
	// ErrVideoIDRequired is returned when a request has no video ID.
	ErrVideoIDRequired = errors.New("thumbnail: video ID is required")
	// ErrSourceKeyRequired is returned when a request has no source key.
	ErrSourceKeyRequired = errors.New("thumbnail: source key is required")
	// ErrSourceIsThumbnail is returned when the source key is itself a thumbnail.
	ErrSourceIsThumbnail = errors.New("thumbnail: source key is already a thumbnail")
)

// Dispatcher hands a job to whatever derives the thumbnail.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

// RequestInput contains the parameters for a thumbnail request.
type RequestInput struct {
	// VideoID is the caller's identifier for the video.
	VideoID string
	// SourceKey is the object key of the uploaded video.
	SourceKey string
}

// Service creates thumbnail jobs and records their progress.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// SetDispatcher configures where new jobs are sent. Without one, jobs stay
// pending until an external worker reports on them.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Request creates a pending job for in.SourceKey. When the newest job for the
// video has the same source and has not failed, it is returned as stored, in
// whatever status it has reached, and nothing is dispatched.
// Dispatch is best-effort: a failure is logged and the job stays pending.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Job, error) {
	if in.VideoID == "" {
		return nil, ErrVideoIDRequired
	}
	if in.SourceKey == "" {
		return nil, ErrSourceKeyRequired
	}
	if keyspace.IsThumbnailKey(in.SourceKey) {
		return nil, ErrSourceIsThumbnail
	}

	existing, err := s.repo.FindByVideoID(ctx, in.VideoID)
	switch {
	case err == nil && existing.SourceKey == in.SourceKey && existing.GetStatus() != StatusFailed:
		return existing, nil
	case err != nil && !errors.Is(err, ErrJobNotFound):
		return nil, err
	}

	job := New(in.VideoID, in.SourceKey)

	s.logger.Info("creating thumbnail job",
		slog.String("job_id", job.ID),
		slog.String("video_id", job.VideoID),
		slog.String("source_key", job.SourceKey),
		slog.String("derived_key", job.DerivedKey),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save thumbnail job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, job.Clone()); err != nil {
			s.logger.Warn("thumbnail dispatch failed, job left pending",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return job, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// MarkProcessing moves a pending job to processing.
func (s *Service) MarkProcessing(ctx context.Context, id string) (*Job, error) {
	return s.update(ctx, id, func(j *Job) error { return j.Start() })
}

// Complete records that the thumbnail is stored at the job's DerivedKey.
func (s *Service) Complete(ctx context.Context, id string) (*Job, error) {
	return s.update(ctx, id, func(j *Job) error { return j.Complete() })
}

// Fail records a derivation failure.
func (s *Service) Fail(ctx context.Context, id, reason string) (*Job, error) {
	return s.update(ctx, id, func(j *Job) error { return j.Fail(reason) })
}

func (s *Service) update(ctx context.Context, id string, apply func(*Job) error) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := job.GetStatus()
	if err := apply(job); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, job, from); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.logger.Warn("thumbnail job changed concurrently",
				slog.String("job_id", id),
				slog.String("from", string(from)),
				slog.String("to", string(job.GetStatus())),
			)
			return nil, err
		}
		s.logger.Error("failed to save thumbnail job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("thumbnail job updated",
		slog.String("job_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(job.GetStatus())),
	)
	return job, nil
}
