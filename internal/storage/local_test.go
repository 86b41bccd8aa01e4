package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStore(t *testing.T) {
	t.Run("creates directories if not exists", func(t *testing.T) {
		tempDir := filepath.Join(os.TempDir(), "promoreel_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(tempDir) }()

		store, err := NewLocalStore(tempDir)
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		if store.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", store.TempDir(), tempDir)
		}

		info, err := os.Stat(filepath.Join(tempDir, "outputs"))
		if err != nil {
			t.Fatalf("outputs directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		store, err := NewLocalStore("")
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "promoreel")
		if store.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", store.TempDir(), expected)
		}
	})
}

func TestLocalStore_SaveTemp(t *testing.T) {
	store := setupTestStore(t)

	t.Run("saves data to scratch file", func(t *testing.T) {
		ctx := context.Background()
		data := bytes.NewReader([]byte("test data"))

		path, err := store.SaveTemp(ctx, "test", data)
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(path, "test_") {
			t.Errorf("path %s should contain 'test_'", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test data" {
			t.Errorf("got %q, want %q", string(content), "test data")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_LoadTemp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("loads saved file", func(t *testing.T) {
		path, err := store.SaveTemp(ctx, "load_test", bytes.NewReader([]byte("load data")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		reader, err := store.LoadTemp(ctx, path)
		if err != nil {
			t.Fatalf("LoadTemp() error = %v", err)
		}
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "load data" {
			t.Errorf("got %q, want %q", string(content), "load data")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := store.LoadTemp(ctx, "/non/existent/file")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.LoadTemp(ctx, "/some/path")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_CleanupTemp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := store.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		err := store.CleanupTemp(ctx, paths)
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
		err := store.CleanupTemp(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStore_Publish(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	url, err := store.Publish(ctx, "job-1.mp4", bytes.NewReader([]byte("video bytes")))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("expected file URL, got %q", url)
	}

	content, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("failed to read published file: %v", err)
	}
	if string(content) != "video bytes" {
		t.Errorf("got %q, want %q", string(content), "video bytes")
	}
}

func TestFetch(t *testing.T) {
	t.Run("downloads artifact", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("artifact bytes"))
		}))
		defer srv.Close()

		body, err := Fetch(context.Background(), nil, srv.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		defer func() { _ = body.Close() }()

		content, err := io.ReadAll(body)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "artifact bytes" {
			t.Errorf("got %q, want %q", string(content), "artifact bytes")
		}
	})

	t.Run("fails on error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		if _, err := Fetch(context.Background(), nil, srv.URL); err == nil {
			t.Error("expected error for 404")
		}
	})
}

func setupTestStore(t *testing.T) *LocalStore {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "promoreel_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	store, err := NewLocalStore(tempDir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
