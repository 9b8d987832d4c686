package thumbnail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewWithID("job-1", "video-1", "a.mp4")
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := repo.FindByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found.VideoID != "video-1" || found.DerivedKey != "a-thumbnail.jpg" {
		t.Errorf("unexpected job: %+v", found)
	}

	// Mutating the returned job must not affect the store.
	found.Status = StatusComplete
	again, _ := repo.FindByID(ctx, "job-1")
	if again.Status != StatusPending {
		t.Errorf("store was mutated through returned job: %s", again.Status)
	}
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	if _, err := repo.FindByID(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := repo.FindByVideoID(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByVideoID_Latest(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	older := NewWithID("job-old", "video-1", "a.mp4")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := NewWithID("job-new", "video-1", "a.mp4")
	other := NewWithID("job-other", "video-2", "b.mp4")

	for _, j := range []*Job{older, newer, other} {
		if err := repo.Save(ctx, j); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	found, err := repo.FindByVideoID(ctx, "video-1")
	if err != nil {
		t.Fatalf("FindByVideoID: %v", err)
	}
	if found.ID != "job-new" {
		t.Errorf("expected newest job, got %s", found.ID)
	}
}

func TestMemoryRepository_Concurrent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := New("video", "a.mp4")
			_ = repo.Save(ctx, job)
			_, _ = repo.FindByID(ctx, job.ID)
			_, _ = repo.FindByVideoID(ctx, "video")
		}()
	}
	wg.Wait()
}

func TestMemoryRepository_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := NewWithID("job-1", "video-1", "a.mp4")
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	started := job.Clone()
	if err := started.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := repo.Update(ctx, started, StatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A second writer that also read the job as pending must lose.
	failed := job.Clone()
	if err := failed.Fail("late"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := repo.Update(ctx, failed, StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	stored, _ := repo.FindByID(ctx, "job-1")
	if stored.Status != StatusProcessing {
		t.Errorf("expected processing, got %s", stored.Status)
	}

	if err := repo.Update(ctx, NewWithID("missing", "v", "a.mp4"), StatusPending); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
