package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/curatelab/curator/analyzer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curator.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if len(cfg.Analyzer.Candidates) != 1 || cfg.Analyzer.Candidates[0].Model != defaultOllamaModel {
		t.Errorf("candidates = %+v, want default ollama candidate", cfg.Analyzer.Candidates)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error without database and secret")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  host: db.internal
  name: curation
auth:
  jwtSecret: from-file
  tokenTtl: 2h
analyzer:
  maxConcurrent: 5
  candidates:
    - provider: openai
      model: gpt-4o-mini
      baseUrl: https://openrouter.ai/api/v1
      timeout: 8s
    - provider: ollama
      model: qwen2.5:3b
      baseUrl: http://gpu:11434
storage:
  backend: s3
  s3:
    bucket: analyses
    region: us-east-1
`)
	t.Setenv(configPathEnv, path)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	t.Setenv("DB_PASSWORD", "secret")

	cfg := Load()

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q, want env override", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("token ttl = %v, want 2h", cfg.Auth.TokenTTL)
	}
	if cfg.Analyzer.MaxConcurrent != 5 {
		t.Errorf("max concurrent = %d, want 5", cfg.Analyzer.MaxConcurrent)
	}
	if cfg.Analyzer.CacheSize != analyzer.DefaultConfig().CacheSize {
		t.Errorf("cache size = %d, want default", cfg.Analyzer.CacheSize)
	}

	if len(cfg.Analyzer.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cfg.Analyzer.Candidates))
	}
	openai := cfg.Analyzer.Candidates[0]
	if openai.APIKey != "sk-test" || openai.Timeout != 8*time.Second {
		t.Errorf("openai candidate = %+v", openai)
	}
	if got := cfg.Analyzer.Candidates[1].BaseURL; got != "http://ollama:11434" {
		t.Errorf("ollama base url = %q, want env override", got)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	want := "host=db.internal port=5432 user=curator password=secret dbname=curation sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}

	apiCfg := cfg.APIConfig()
	if apiCfg.Addr != ":9090" || !apiCfg.CORSEnabled {
		t.Errorf("api config = %+v", apiCfg)
	}
	if apiCfg.StorageConfig.Backend != "s3" || apiCfg.StorageConfig.S3.Bucket != "analyses" {
		t.Errorf("storage config = %+v", apiCfg.StorageConfig)
	}
}

func TestLoadBadFileFallsBack(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, "server: [unterminated"))

	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default after parse failure", cfg.Server.Port)
	}
}

func TestDatabaseDSNPrefersExplicit(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("DATABASE_DSN", "postgres://u:p@h/db")

	cfg := Load()
	if got := cfg.DatabaseDSN(); got != "postgres://u:p@h/db" {
		t.Errorf("dsn = %q", got)
	}
}
