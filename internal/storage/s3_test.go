package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Store(t *testing.T) {
	tempDir := filepath.Join(os.TempDir(), "promoreel_s3_test_"+randomSuffix())
	defer os.RemoveAll(tempDir)

	cfg := testS3Config("http://localhost:4566")
	store, err := NewS3Store(tempDir, cfg)
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	if store.bucket != cfg.Bucket {
		t.Errorf("bucket = %v, want %v", store.bucket, cfg.Bucket)
	}
	if store.region != cfg.Region {
		t.Errorf("region = %v, want %v", store.region, cfg.Region)
	}
}

func TestS3Store_InheritsScratchStorage(t *testing.T) {
	tempDir := filepath.Join(os.TempDir(), "promoreel_s3_test_"+randomSuffix())
	defer os.RemoveAll(tempDir)

	store, err := NewS3Store(tempDir, testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	ctx := context.Background()

	path, err := store.SaveTemp(ctx, "test", bytes.NewReader([]byte("test data")))
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}
	defer os.Remove(path)

	reader, err := store.LoadTemp(ctx, path)
	if err != nil {
		t.Fatalf("LoadTemp() error = %v", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(content) != "test data" {
		t.Errorf("got %q, want %q", string(content), "test data")
	}

	err = store.CleanupTemp(ctx, []string{path})
	if err != nil {
		t.Fatalf("CleanupTemp() error = %v", err)
	}
}

func TestS3Store_Publish_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}

		if !strings.Contains(r.URL.Path, "/job-42.mp4") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "video content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tempDir := filepath.Join(os.TempDir(), "promoreel_s3_mock_test_"+randomSuffix())
	defer os.RemoveAll(tempDir)

	store, err := NewS3Store(tempDir, testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	ctx := context.Background()
	url, err := store.Publish(ctx, "job-42.mp4", bytes.NewReader([]byte("video content")))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	expectedURL := "https://test-bucket.s3.us-east-1.amazonaws.com/job-42.mp4"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}
