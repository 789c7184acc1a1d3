// Package config reads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	Server  ServerConfig
	GCP     GCPConfig
	Redis   RedisConfig
	Staging StagingConfig
	Upload  UploadConfig
	Extract ExtractConfig
	LLM     LLMConfig
	Queue   QueueConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type GCPConfig struct {
	ProjectID       string
	Dataset         string
	Bucket          string
	CredentialsFile string
}

type RedisConfig struct {
	// URL is optional; when empty, candidate staging falls back to the
	// in-process store.
	URL string
}

type StagingConfig struct {
	// TTL is how long staged candidate rows are retained awaiting confirm.
	TTL           time.Duration
	SweepInterval time.Duration
}

type UploadConfig struct {
	MaxFileSize int64
}

type ExtractConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type LLMConfig struct {
	Model string
}

type QueueConfig struct {
	BufferSize int
	Workers    int
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PORT", 8080),
			Env:  envString("APP_ENV", "development"),
		},
		GCP: GCPConfig{
			ProjectID:       os.Getenv("GCP_PROJECT_ID"),
			Dataset:         envString("BQ_DATASET", "finledger"),
			Bucket:          os.Getenv("GCS_BUCKET"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Staging: StagingConfig{
			TTL:           envDuration("STAGING_TTL", 24*time.Hour),
			SweepInterval: envDuration("STAGING_SWEEP_INTERVAL", 10*time.Minute),
		},
		Upload: UploadConfig{
			MaxFileSize: envInt64("UPLOAD_MAX_BYTES", 10<<20),
		},
		Extract: ExtractConfig{
			BaseURL: os.Getenv("EXTRACT_BASE_URL"),
			APIKey:  os.Getenv("EXTRACT_API_KEY"),
			Timeout: envDuration("EXTRACT_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Model: envString("LLM_MODEL", "gemini-2.5-flash"),
		},
		Queue: QueueConfig{
			BufferSize: envInt("QUEUE_BUFFER", 100),
			Workers:    envInt("QUEUE_WORKERS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GCP.ProjectID == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required")
	}
	if c.GCP.Bucket == "" {
		return fmt.Errorf("GCS_BUCKET is required")
	}
	if c.Extract.BaseURL != "" &&
		!strings.HasPrefix(c.Extract.BaseURL, "http://") &&
		!strings.HasPrefix(c.Extract.BaseURL, "https://") {
		return fmt.Errorf("EXTRACT_BASE_URL must start with http:// or https://, got %q", c.Extract.BaseURL)
	}
	if c.Staging.TTL <= 0 {
		return fmt.Errorf("STAGING_TTL must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
