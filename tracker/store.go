package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps the confirmed set for the life of the process
type MemoryStore struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{urls: make(map[string]struct{})}
}

func (s *MemoryStore) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.urls), nil
}

func (s *MemoryStore) Add(ctx context.Context, urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = make(map[string]struct{})
	return nil
}

// FileStore keeps the confirmed set in a JSON file so it survives restarts
type FileStore struct {
	mu   sync.Mutex
	path string
	urls map[string]struct{}
}

type fileContents struct {
	URLs []string `json:"urls"`
}

// NewFileStore creates a store at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return sortedKeys(s.urls), nil
}

func (s *FileStore) loadLocked() error {
	if s.urls != nil {
		return nil
	}
	s.urls = make(map[string]struct{})

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var contents fileContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	for _, u := range contents.URLs {
		s.urls[u] = struct{}{}
	}
	return nil
}

func (s *FileStore) Add(ctx context.Context, urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	for _, u := range urls {
		s.urls[u] = struct{}{}
	}
	return s.writeLocked()
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = make(map[string]struct{})
	return s.writeLocked()
}

// writeLocked replaces the file atomically via a temp file and rename
func (s *FileStore) writeLocked() error {
	raw, err := json.MarshalIndent(fileContents{URLs: sortedKeys(s.urls)}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode confirmed urls: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".confirmed-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// RedisStore keeps the confirmed set in a Redis set
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store under curator:agent:<instance>:confirmed
func NewRedisStore(client *redis.Client, instance string) *RedisStore {
	if instance == "" {
		instance = "default"
	}
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("curator:agent:%s:confirmed", instance),
	}
}

// Key returns the Redis key holding the set
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	urls, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.key, err)
	}
	sort.Strings(urls)
	return urls, nil
}

func (s *RedisStore) Add(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	members := make([]interface{}, len(urls))
	for i, u := range urls {
		members[i] = u
	}
	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("failed to add to %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.key, err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
