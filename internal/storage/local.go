package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements Store using local disk. Scratch files live in
// a configurable directory and published videos go to an outputs
// subdirectory, addressed by file URL.
type LocalStore struct {
	tempDir   string
	outputDir string
}

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a new LocalStore instance.
// If tempDir is empty, a promoreel directory under os.TempDir() is used.
// Both the scratch and output directories are created if missing.
func NewLocalStore(tempDir string) (*LocalStore, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "promoreel")
	}
	outputDir := filepath.Join(tempDir, "outputs")

	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, fmt.Errorf("storage: create directories: %w", err)
	}

	return &LocalStore{tempDir: tempDir, outputDir: outputDir}, nil
}

// TempDir returns the scratch directory path.
func (s *LocalStore) TempDir() string {
	return s.tempDir
}

// SaveTemp saves data to a scratch file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStore) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("storage: create scratch file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("storage: write scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("storage: close scratch file: %w", err)
	}

	return fileName, nil
}

// LoadTemp reads a scratch file and returns a reader.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStore) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("storage: open scratch file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the specified scratch files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStore) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("storage: context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage: remove scratch file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Publish copies a finished video into the outputs directory and
// returns a file URL pointing at it.
func (s *LocalStore) Publish(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("storage: context cancelled: %w", ctx.Err())
	default:
	}

	dest := filepath.Join(s.outputDir, filepath.Base(key))
	f, err := os.Create(dest) // #nosec G304 - key is sanitized to its base name
	if err != nil {
		return "", fmt.Errorf("storage: create output file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", fmt.Errorf("storage: write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("storage: close output file: %w", err)
	}

	return "file://" + dest, nil
}
