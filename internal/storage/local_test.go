package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewWorkspace(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(os.TempDir(), "tennispro_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(tempDir) }()

		ws, err := NewWorkspace(tempDir)
		if err != nil {
			t.Fatalf("NewWorkspace() error = %v", err)
		}

		if ws.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", ws.TempDir(), tempDir)
		}

		info, err := os.Stat(tempDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		ws, err := NewWorkspace("")
		if err != nil {
			t.Fatalf("NewWorkspace() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "tennispro")
		if ws.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", ws.TempDir(), expected)
		}
	})
}

func TestWorkspace_SaveTemp(t *testing.T) {
	ws := setupTestWorkspace(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		ctx := context.Background()

		path, n, err := ws.SaveTemp(ctx, "upload", bytes.NewReader([]byte("video bytes")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(path, "upload_") {
			t.Errorf("path %s should contain 'upload_'", path)
		}
		if n != int64(len("video bytes")) {
			t.Errorf("size = %d, want %d", n, len("video bytes"))
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "video bytes" {
			t.Errorf("got %q, want %q", string(content), "video bytes")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := ws.SaveTemp(ctx, "upload", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestWorkspace_OpenTemp(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()

	t.Run("opens saved file", func(t *testing.T) {
		path, _, err := ws.SaveTemp(ctx, "open_test", bytes.NewReader([]byte("0123456789")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		f, err := ws.OpenTemp(ctx, path)
		if err != nil {
			t.Fatalf("OpenTemp() error = %v", err)
		}
		defer func() { _ = f.Close() }()

		section, err := io.ReadAll(io.NewSectionReader(f, 3, 4))
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(section) != "3456" {
			t.Errorf("got %q, want %q", string(section), "3456")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := ws.OpenTemp(ctx, "/non/existent/file")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ws.OpenTemp(ctx, "/some/path")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestWorkspace_ReserveTemp(t *testing.T) {
	ws := setupTestWorkspace(t)

	path, err := ws.ReserveTemp("thumb", ".jpg")
	if err != nil {
		t.Fatalf("ReserveTemp() error = %v", err)
	}
	if filepath.Dir(path) != ws.TempDir() {
		t.Errorf("path %s not inside %s", path, ws.TempDir())
	}
	if !strings.HasSuffix(path, ".jpg") {
		t.Errorf("path %s should end in .jpg", path)
	}

	other, err := ws.ReserveTemp("thumb", ".jpg")
	if err != nil {
		t.Fatalf("ReserveTemp() error = %v", err)
	}
	if other == path {
		t.Error("expected distinct paths")
	}
}

func TestWorkspace_CleanupTemp(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, _, err := ws.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		err := ws.CleanupTemp(ctx, paths)
		if err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := ws.CleanupTemp(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := ws.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func setupTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "tennispro_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	ws, err := NewWorkspace(tempDir)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return ws
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
