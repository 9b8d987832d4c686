// Package thumbnail derives still-frame previews from uploaded videos.
// It includes the Job aggregate tracking one derivation, its repositories,
// the ffmpeg-based extractor and an in-process worker pool.
package thumbnail

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/airfobrien/tennispro-sub000/internal/keyspace"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job was accepted and is waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing indicates a worker is deriving the thumbnail.
	StatusProcessing Status = "processing"
	// StatusComplete indicates the thumbnail was stored at DerivedKey.
	StatusComplete Status = "complete"
	// StatusFailed indicates derivation failed. The video itself is unaffected.
	StatusFailed Status = "failed"
)

// IsValid returns true if the status is known.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("thumbnail: invalid state transition")

var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusComplete, StatusFailed},
	StatusComplete:   {},
	StatusFailed:     {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Job tracks the derivation of one thumbnail.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// VideoID is the caller's identifier for the video.
	VideoID string
	// SourceKey is the object key of the uploaded video.
	SourceKey string
	// DerivedKey is where the thumbnail is stored.
	DerivedKey string
	// Status is the current job state.
	Status Status
	// Error contains the failure reason if the job failed.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a pending Job for sourceKey with a generated ID. The derived
// key is computed from the source key.
func New(videoID, sourceKey string) *Job {
	return NewWithID(id.Generate(), videoID, sourceKey)
}

// NewWithID creates a pending Job with the specified ID.
func NewWithID(jobID, videoID, sourceKey string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         jobID,
		VideoID:    videoID,
		SourceKey:  sourceKey,
		DerivedKey: keyspace.MakeThumbnailKey(sourceKey),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo attempts to change the job status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()

	switch status {
	case StatusProcessing:
		j.StartedAt = j.UpdatedAt
	case StatusComplete, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from pending to processing.
func (j *Job) Start() error {
	return j.TransitionTo(StatusProcessing)
}

// Complete transitions the job to complete.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusComplete)
}

// Fail transitions the job to failed with a reason. The reason is only
// recorded when the transition is allowed.
func (j *Job) Fail(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = reason
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is complete or failed.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		VideoID:     j.VideoID,
		SourceKey:   j.SourceKey,
		DerivedKey:  j.DerivedKey,
		Status:      j.Status,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
