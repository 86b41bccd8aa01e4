// Package storage handles scratch files during generation and the
// publication of finished promo videos. It defines the Store port with
// a local-disk implementation and an S3-backed one for delivery.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Store defines the interface for scratch and published video storage.
type Store interface {
	// SaveTemp saves data to a scratch file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a scratch file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified scratch files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish stores a finished video under key and returns the stable
	// URL callers hand back to clients.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// Fetch downloads a provider-hosted artifact. The caller is responsible
// for closing the returned ReadCloser.
func Fetch(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create fetch request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("storage: fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
