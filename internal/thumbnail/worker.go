package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/airfobrien/tennispro-sub000/internal/storage"
)

// Static errors for the worker queue.
var (
	// ErrQueueFull is returned when the worker cannot accept another job.
	ErrQueueFull = errors.New("thumbnail: worker queue is full")
	// ErrWorkerClosed is returned when dispatching to a stopped worker.
	ErrWorkerClosed = errors.New("thumbnail: worker is closed")
)

// Compile-time check that Worker implements Dispatcher.
var _ Dispatcher = (*Worker)(nil)

// Worker derives thumbnails in-process: it downloads the source video into
// the workspace, extracts a frame, uploads the JPEG to the derived key and
// drives the job status through the Service.
type Worker struct {
	svc       *Service
	backend   storage.Backend
	workspace *storage.Workspace
	extractor Extractor
	logger    *slog.Logger

	workers    int
	jobTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan string
	wg     sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkers sets the number of concurrent derivations.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait for a free worker.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithJobTimeout bounds a single derivation.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a Worker. Call Start to begin processing.
func NewWorker(svc *Service, backend storage.Backend, workspace *storage.Workspace, extractor Extractor, opts ...WorkerOption) *Worker {
	w := &Worker{
		svc:        svc,
		backend:    backend,
		workspace:  workspace,
		extractor:  extractor,
		logger:     slog.Default(),
		workers:    2,
		jobTimeout: 2 * time.Minute,
		queue:      make(chan string, 64),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dispatch queues job without blocking.
func (w *Worker) Dispatch(_ context.Context, job *Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWorkerClosed
	}

	select {
	case w.queue <- job.ID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled or
// Close drains the queue.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID, ok := <-w.queue:
					if !ok {
						return
					}
					w.process(ctx, jobID)
				}
			}
		}()
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for the
// worker goroutines to exit.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	job, err := w.svc.MarkProcessing(ctx, jobID)
	if err != nil {
		w.logger.Error("failed to start thumbnail job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	if err := w.derive(ctx, job); err != nil {
		w.logger.Warn("thumbnail derivation failed",
			slog.String("job_id", jobID),
			slog.String("source_key", job.SourceKey),
			slog.String("error", err.Error()),
		)
		// The job context may be what failed; record the outcome regardless.
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer failCancel()
		if _, ferr := w.svc.Fail(failCtx, jobID, err.Error()); ferr != nil {
			w.logger.Error("failed to record thumbnail failure",
				slog.String("job_id", jobID),
				slog.String("error", ferr.Error()),
			)
		}
		return
	}

	if _, err := w.svc.Complete(ctx, jobID); err != nil {
		w.logger.Error("failed to complete thumbnail job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("thumbnail derived",
		slog.String("job_id", jobID),
		slog.String("derived_key", job.DerivedKey),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// derive runs download, extract and upload for one job.
func (w *Worker) derive(ctx context.Context, job *Job) error {
	var temps []string
	defer func() {
		if err := w.workspace.CleanupTemp(context.WithoutCancel(ctx), temps); err != nil {
			w.logger.Warn("failed to clean up thumbnail temp files",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	src, err := w.backend.GetObject(ctx, job.SourceKey)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	videoPath, _, err := w.workspace.SaveTemp(ctx, "source", src)
	_ = src.Close()
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	temps = append(temps, videoPath)

	thumbPath, err := w.workspace.ReserveTemp("thumb", path.Ext(job.DerivedKey))
	if err != nil {
		return err
	}
	temps = append(temps, thumbPath)

	if err := w.extractor.Extract(ctx, videoPath, thumbPath); err != nil {
		return err
	}

	f, err := w.workspace.OpenTemp(ctx, thumbPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat thumbnail: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: empty output", ErrDerivation)
	}

	if err := w.backend.PutObject(ctx, job.DerivedKey, f, info.Size(), "image/jpeg"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	return nil
}
