package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Workspace holds temporary files on local disk while they are spooled to or
// from the object store: request bodies awaiting upload, downloaded source
// videos and rendered thumbnails.
type Workspace struct {
	tempDir string
}

// NewWorkspace creates a new Workspace.
// If tempDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewWorkspace(tempDir string) (*Workspace, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "tennispro")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &Workspace{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (w *Workspace) TempDir() string {
	return w.tempDir
}

// SaveTemp copies data into a new temporary file and returns its path and size.
// The name is used as a base for the filename with a unique suffix.
func (w *Workspace) SaveTemp(ctx context.Context, name string, data io.Reader) (string, int64, error) {
	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(w.tempDir, name+"_*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	n, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}

	return fileName, n, nil
}

// OpenTemp opens a temporary file for random-access reads.
// The caller is responsible for closing the returned file.
func (w *Workspace) OpenTemp(ctx context.Context, path string) (*os.File, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is produced by this workspace
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// ReserveTemp returns a fresh path inside the workspace, ending in ext, for a
// tool that writes its own output file.
func (w *Workspace) ReserveTemp(name, ext string) (string, error) {
	f, err := os.CreateTemp(w.tempDir, name+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("reserve temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (w *Workspace) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}
