package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/curatelab/curator/models"
)

func testRecord() *models.ContentRecord {
	return &models.ContentRecord{
		ID:           "3f0c2a6e-0000-4000-8000-000000000001",
		Owner:        "user-42",
		URL:          "https://www.example.com/posts/go-interfaces",
		Title:        "Go interfaces",
		QualityScore: 78,
		IsQualified:  true,
		Analysis:     &models.Analysis{Method: "llama3.2:1b"},
		SubmissionID: "9a8b7c6d-1111-4000-8000-000000000002",
		Source:       models.SourcePipeline,
	}
}

func TestAnalysisKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	got := analysisKey(testRecord(), now)
	want := "analyses/user-42/2024/03/example-com-posts-go-interfaces-9a8b7c6d.json"
	if got != want {
		t.Errorf("analysisKey() = %q, want %q", got, want)
	}

	bare := &models.ContentRecord{URL: "::"}
	if got := analysisKey(bare, now); !strings.HasPrefix(got, "analyses/anonymous/2024/03/") {
		t.Errorf("analysisKey() fallback = %q", got)
	}
}

func TestFilesystemArchive(t *testing.T) {
	dir := t.TempDir()
	archive, err := New(Config{BasePath: dir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	rec := testRecord()
	if err := archive.SaveAnalysis(ctx, rec); err != nil {
		t.Fatalf("SaveAnalysis() error: %v", err)
	}

	key := analysisKey(rec, time.Now().UTC())
	if _, err := os.Stat(archive.GetFullPath(key)); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	snap, err := archive.ReadAnalysis(ctx, key)
	if err != nil {
		t.Fatalf("ReadAnalysis() error: %v", err)
	}
	if snap.Key != key || snap.Record.URL != rec.URL || snap.Record.Analysis.Method != "llama3.2:1b" {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := archive.DeleteAnalysis(ctx, key); err != nil {
		t.Fatalf("DeleteAnalysis() error: %v", err)
	}
	if err := archive.DeleteAnalysis(ctx, key); err != nil {
		t.Errorf("DeleteAnalysis() on missing key error: %v", err)
	}
}

func TestNewArchive(t *testing.T) {
	ctx := context.Background()

	a, err := NewArchive(ctx, Config{Backend: BackendFilesystem, BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewArchive(fs) error: %v", err)
	}
	if _, ok := a.(*Storage); !ok {
		t.Errorf("NewArchive(fs) = %T, want *Storage", a)
	}

	if _, err := NewArchive(ctx, Config{Backend: "tape"}); err == nil {
		t.Error("NewArchive(tape) expected error")
	}
}

// TestNewS3Storage tests creating S3 storage with valid config
func TestNewS3Storage(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	storage, err := NewS3Storage(context.Background(), config)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if storage == nil {
		t.Fatal("Expected storage to be non-nil")
	}
}

func TestNewS3StorageValidation(t *testing.T) {
	valid := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	tests := []struct {
		name   string
		mutate func(*S3Config)
	}{
		{"missing bucket", func(c *S3Config) { c.Bucket = "" }},
		{"missing region", func(c *S3Config) { c.Region = "" }},
		{"missing credentials", func(c *S3Config) { c.AccessKeyID, c.SecretAccessKey = "", "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewS3Storage(context.Background(), cfg); err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}

func TestS3SaveAnalysis(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), S3Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "archive",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error: %v", err)
	}

	if err := storage.SaveAnalysis(context.Background(), testRecord()); err != nil {
		t.Fatalf("SaveAnalysis() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasPrefix(gotPath, "/archive/analyses/user-42/") {
		t.Errorf("path = %q, want bucket-prefixed analysis key", gotPath)
	}
	if !strings.Contains(gotBody, `"quality_score": 78`) {
		t.Errorf("body missing snapshot: %.200q", gotBody)
	}
}
