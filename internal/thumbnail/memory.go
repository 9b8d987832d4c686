package thumbnail

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// Suitable for development and testing; jobs are lost on restart.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Save stores a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Update stores a clone if the stored status still equals from.
func (r *MemoryRepository) Update(_ context.Context, job *Job, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrInvalidTransition, job.ID, stored.Status, from)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindByID returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// FindByVideoID scans all jobs; the store is small enough for that.
func (r *MemoryRepository) FindByVideoID(_ context.Context, videoID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Job
	for _, job := range r.jobs {
		if job.VideoID != videoID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, ErrJobNotFound
	}
	return latest.Clone(), nil
}
