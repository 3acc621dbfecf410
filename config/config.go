// Package config loads backend configuration from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/curatelab/curator/analyzer"
	"github.com/curatelab/curator/api"
	"github.com/curatelab/curator/auth"
	"github.com/curatelab/curator/db"
	"github.com/curatelab/curator/storage"
)

const (
	configPathEnv      = "CURATOR_CONFIG"
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2:1b"
)

// Config holds backend settings
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig describes the HTTP listener
type ServerConfig struct {
	Port        string `yaml:"port"`
	DisableCORS bool   `yaml:"disableCors"`
}

// DatabaseConfig describes the Postgres connection. DSN wins over the parts.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// AuthConfig describes bearer token verification
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTtl"`
}

// AnalyzerConfig describes the scoring cascade
type AnalyzerConfig struct {
	MaxConcurrent      int                      `yaml:"maxConcurrent"`
	CacheSize          int                      `yaml:"cacheSize"`
	PromptContentChars int                      `yaml:"promptContentChars"`
	Candidates         []analyzer.CandidateSpec `yaml:"candidates"`
}

// StorageConfig describes the analysis archive
type StorageConfig struct {
	Backend  string   `yaml:"backend"`
	BasePath string   `yaml:"basePath"`
	S3       S3Config `yaml:"s3"`
}

// S3Config describes an S3-compatible bucket
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// RateLimitConfig bounds analyze requests per owner
type RateLimitConfig struct {
	AnalyzePerSecond float64 `yaml:"analyzePerSecond"`
	AnalyzeBurst     int     `yaml:"analyzeBurst"`
}

// Load reads YAML configuration (if present) and applies environment overrides
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Validate reports settings the backend cannot start without
func (c Config) Validate() error {
	if c.Database.DSN == "" && c.Database.Host == "" {
		return errors.New("database host or dsn is required (DB_HOST or DATABASE_DSN)")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required (JWT_SECRET)")
	}
	return nil
}

// DatabaseDSN returns the Postgres connection string
func (c Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	d := c.Database
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", d.Host, d.Port, d.User, d.Password, d.Name)
}

// APIConfig converts the settings into a server configuration
func (c Config) APIConfig() api.Config {
	return api.Config{
		Addr:     ":" + c.Server.Port,
		DBConfig: db.Config{DSN: c.DatabaseDSN()},
		StorageConfig: storage.Config{
			Backend:  c.Storage.Backend,
			BasePath: c.Storage.BasePath,
			S3: storage.S3Config{
				Endpoint:        c.Storage.S3.Endpoint,
				Region:          c.Storage.S3.Region,
				Bucket:          c.Storage.S3.Bucket,
				AccessKeyID:     c.Storage.S3.AccessKeyID,
				SecretAccessKey: c.Storage.S3.SecretAccessKey,
				UsePathStyle:    c.Storage.S3.UsePathStyle,
			},
		},
		AnalyzerConfig: analyzer.Config{
			MaxConcurrent:      c.Analyzer.MaxConcurrent,
			CacheSize:          c.Analyzer.CacheSize,
			PromptContentChars: c.Analyzer.PromptContentChars,
		},
		Candidates: c.Analyzer.Candidates,
		AuthConfig: auth.Config{
			Secret: c.Auth.JWTSecret,
			Issuer: c.Auth.Issuer,
			TTL:    c.Auth.TokenTTL,
		},
		AnalyzeRate:  c.RateLimit.AnalyzePerSecond,
		AnalyzeBurst: c.RateLimit.AnalyzeBurst,
		CORSEnabled:  !c.Server.DisableCORS,
	}
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Server.Port, "PORT")

	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.Issuer, "JWT_ISSUER")

	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.BasePath, "STORAGE_BASE_PATH")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Bucket, "S3_BUCKET")
	setString(&c.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	if v := os.Getenv("ANALYZE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RateLimit.AnalyzePerSecond = f
		} else {
			log.Printf("config: invalid ANALYZE_RATE %q, keeping %v", v, c.RateLimit.AnalyzePerSecond)
		}
	}

	// OLLAMA_URL and OLLAMA_MODEL retarget every Ollama candidate
	ollamaURL := os.Getenv("OLLAMA_URL")
	ollamaModel := os.Getenv("OLLAMA_MODEL")
	for i := range c.Analyzer.Candidates {
		spec := &c.Analyzer.Candidates[i]
		switch strings.ToLower(spec.Provider) {
		case analyzer.ProviderOllama, "":
			if ollamaURL != "" {
				spec.BaseURL = ollamaURL
			}
			if ollamaModel != "" {
				spec.Model = ollamaModel
			}
		case analyzer.ProviderOpenAI, "openrouter":
			if spec.APIKey == "" {
				spec.APIKey = os.Getenv("OPENAI_API_KEY")
			}
		case analyzer.ProviderAnthropic:
			if spec.APIKey == "" {
				spec.APIKey = os.Getenv("ANTHROPIC_API_KEY")
			}
		case analyzer.ProviderBedrock:
			if spec.Region == "" {
				spec.Region = os.Getenv("AWS_REGION")
			}
		}
	}
}

func mergeConfig(base, override Config) Config {
	if override.Server.Port != "" {
		base.Server.Port = override.Server.Port
	}
	if override.Server.DisableCORS {
		base.Server.DisableCORS = true
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.Host != "" {
		base.Database.Host = override.Database.Host
	}
	if override.Database.Port != "" {
		base.Database.Port = override.Database.Port
	}
	if override.Database.User != "" {
		base.Database.User = override.Database.User
	}
	if override.Database.Password != "" {
		base.Database.Password = override.Database.Password
	}
	if override.Database.Name != "" {
		base.Database.Name = override.Database.Name
	}

	if override.Auth.JWTSecret != "" {
		base.Auth.JWTSecret = override.Auth.JWTSecret
	}
	if override.Auth.Issuer != "" {
		base.Auth.Issuer = override.Auth.Issuer
	}
	if override.Auth.TokenTTL > 0 {
		base.Auth.TokenTTL = override.Auth.TokenTTL
	}

	if override.Analyzer.MaxConcurrent > 0 {
		base.Analyzer.MaxConcurrent = override.Analyzer.MaxConcurrent
	}
	if override.Analyzer.CacheSize > 0 {
		base.Analyzer.CacheSize = override.Analyzer.CacheSize
	}
	if override.Analyzer.PromptContentChars > 0 {
		base.Analyzer.PromptContentChars = override.Analyzer.PromptContentChars
	}
	if len(override.Analyzer.Candidates) > 0 {
		base.Analyzer.Candidates = override.Analyzer.Candidates
	}

	if override.Storage.Backend != "" {
		base.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.BasePath != "" {
		base.Storage.BasePath = override.Storage.BasePath
	}
	if override.Storage.S3.Bucket != "" {
		base.Storage.S3 = override.Storage.S3
	}

	if override.RateLimit.AnalyzePerSecond > 0 {
		base.RateLimit.AnalyzePerSecond = override.RateLimit.AnalyzePerSecond
	}
	if override.RateLimit.AnalyzeBurst > 0 {
		base.RateLimit.AnalyzeBurst = override.RateLimit.AnalyzeBurst
	}

	return base
}

func defaultConfig() Config {
	ac := analyzer.DefaultConfig()
	return Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Port: "5432",
			User: "curator",
			Name: "curator",
		},
		Auth: AuthConfig{
			Issuer:   "curator",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Analyzer: AnalyzerConfig{
			MaxConcurrent:      ac.MaxConcurrent,
			CacheSize:          ac.CacheSize,
			PromptContentChars: ac.PromptContentChars,
			Candidates: []analyzer.CandidateSpec{
				{Provider: analyzer.ProviderOllama, Model: defaultOllamaModel, BaseURL: defaultOllamaURL, Timeout: 10 * time.Second},
			},
		},
		Storage: StorageConfig{
			Backend:  storage.BackendFilesystem,
			BasePath: "./storage",
		},
		RateLimit: RateLimitConfig{
			AnalyzePerSecond: 1,
			AnalyzeBurst:     10,
		},
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
