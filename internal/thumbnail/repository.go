package thumbnail

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("thumbnail: job not found")

// Repository defines the interface for job persistence.
type Repository interface {
	// Save persists a job, replacing any stored job with the same ID.
	Save(ctx context.Context, job *Job) error

	// Update replaces the stored job only while its status is still from.
	// Returns ErrInvalidTransition if the stored status has moved on, and
	// ErrJobNotFound if the job does not exist.
	Update(ctx context.Context, job *Job, from Status) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// FindByVideoID returns the most recently created job for a video.
	// Returns ErrJobNotFound if the video has no jobs.
	FindByVideoID(ctx context.Context, videoID string) (*Job, error)
}
