// Package storage archives every stored analysis as a JSON snapshot, on the
// local filesystem or in an S3-compatible bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/curatelab/curator/models"
	"github.com/curatelab/curator/slug"
)

// Backends selectable in Config
const (
	BackendFilesystem = "fs"
	BackendS3         = "s3"
)

// Config contains storage configuration
type Config struct {
	Backend  string   // fs (default) or s3
	BasePath string   // Base directory for the filesystem backend
	S3       S3Config // Used by the s3 backend
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		Backend:  BackendFilesystem,
		BasePath: "./storage",
	}
}

// Archive stores and reads analysis snapshots
type Archive interface {
	SaveAnalysis(ctx context.Context, rec *models.ContentRecord) error
	ReadAnalysis(ctx context.Context, key string) (*Snapshot, error)
	DeleteAnalysis(ctx context.Context, key string) error
}

// Snapshot is one archived analysis
type Snapshot struct {
	Key        string                `json:"key"`
	Record     *models.ContentRecord `json:"record"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// NewArchive builds the archive selected by config.Backend
func NewArchive(ctx context.Context, config Config) (Archive, error) {
	switch config.Backend {
	case BackendFilesystem, "":
		return New(config)
	case BackendS3:
		return NewS3Storage(ctx, config.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Backend)
	}
}

// Storage archives snapshots on the local filesystem
type Storage struct {
	config Config
}

// New creates a new filesystem archive rooted at config.BasePath
func New(config Config) (*Storage, error) {
	if config.BasePath == "" {
		config.BasePath = DefaultConfig().BasePath
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{config: config}, nil
}

// SaveAnalysis writes a snapshot of rec
func (s *Storage) SaveAnalysis(ctx context.Context, rec *models.ContentRecord) error {
	now := time.Now().UTC()
	key := analysisKey(rec, now)

	data, err := encodeSnapshot(key, rec, now)
	if err != nil {
		return err
	}

	fullPath := s.GetFullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create analysis directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write analysis file: %w", err)
	}
	return nil
}

// ReadAnalysis reads the snapshot stored under key
func (s *Storage) ReadAnalysis(ctx context.Context, key string) (*Snapshot, error) {
	data, err := os.ReadFile(s.GetFullPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis file: %w", err)
	}
	return decodeSnapshot(data)
}

// DeleteAnalysis removes the snapshot stored under key. Missing files are ignored.
func (s *Storage) DeleteAnalysis(ctx context.Context, key string) error {
	if err := os.Remove(s.GetFullPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete analysis file: %w", err)
	}
	return nil
}

// GetFullPath returns the full filesystem path for a key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

// analysisKey builds analyses/<owner>/YYYY/MM/<url-slug>-<submission>.json.
// The submission ID keeps successive analyses of one URL apart.
func analysisKey(rec *models.ContentRecord, now time.Time) string {
	owner := slug.GenerateWithFallback(rec.Owner, "anonymous")
	name := slug.GenerateWithFallback(slug.FromURL(rec.URL), "page")

	suffix := rec.SubmissionID
	if suffix == "" {
		suffix = rec.ID
	}
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix != "" {
		name += "-" + suffix
	}

	return path.Join("analyses", owner,
		fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())),
		name+".json")
}

func encodeSnapshot(key string, rec *models.ContentRecord, now time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot{Key: key, Record: rec, ArchivedAt: now}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
