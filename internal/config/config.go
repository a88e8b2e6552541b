// Package config provides configuration for the event store services and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendType selects the backend EventStore queries.
type BackendType string

const (
	BackendPartitioned BackendType = "partitioned"
	BackendRemote      BackendType = "remote"
)

// Config holds the configuration for the event store.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Backend selects and configures the query backend
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// gRPC configuration of the query server
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Query configuration
	Query QueryConfig `json:"query" yaml:"query"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// BackendConfig holds backend selection.
type BackendConfig struct {
	// Type is partitioned or remote
	Type BackendType `json:"type" yaml:"type"`

	// Addr is the query server address (for remote type)
	Addr string `json:"addr" yaml:"addr"`

	// CallTimeout bounds each remote call when the caller sets no deadline
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`
}

// QueryConfig holds query execution configuration.
type QueryConfig struct {
	// DownloadDir is the directory for downloaded partitions
	DownloadDir string `json:"download_dir" yaml:"download_dir"`

	// Concurrency is the number of parallel partition scans
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// PoolSize is the maximum number of SQLite connections
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// DefaultLimit applies when a query sets no limit
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`

	// MaxLimit caps any requested limit
	MaxLimit int `json:"max_limit" yaml:"max_limit"`

	// Timeout bounds each backend call (0 = none)
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// SlowQueryThreshold logs queries slower than this (0 = disabled)
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`

	// MaxCacheMB bounds the partition download cache
	MaxCacheMB int `json:"max_cache_mb" yaml:"max_cache_mb"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// MaxAttempts bounds SDK retries, including the first attempt
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/eventstore",
		Backend: BackendConfig{
			Type:        BackendPartitioned,
			CallTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr: ":9090",
		},
		Query: QueryConfig{
			Concurrency:        8,
			PoolSize:           100,
			DefaultLimit:       100,
			MaxLimit:           1000,
			Timeout:            30 * time.Second,
			SlowQueryThreshold: time.Second,
			MaxCacheMB:         1024,
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region:      "us-east-1",
				MaxAttempts: 3,
			},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/eventstore"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Query.DownloadDir == "" {
		c.Query.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
}

// ManifestPath returns the path to the manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// WorkDir returns the scratch directory used when building partitions.
func (c *Config) WorkDir() string {
	return filepath.Join(c.DataDir, "work")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend.Type {
	case BackendPartitioned:
	case BackendRemote:
		if c.Backend.Addr == "" {
			return fmt.Errorf("backend.addr is required when backend type is remote")
		}
	default:
		return fmt.Errorf("invalid backend type: %s (must be partitioned or remote)", c.Backend.Type)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Query.Concurrency <= 0 {
		return fmt.Errorf("query.concurrency must be positive, got %d", c.Query.Concurrency)
	}
	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be positive, got %d", c.Query.MaxLimit)
	}
	if c.Query.DefaultLimit <= 0 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must be between 1 and max_limit (%d), got %d",
			c.Query.MaxLimit, c.Query.DefaultLimit)
	}
	if c.Query.Timeout < 0 || c.Query.SlowQueryThreshold < 0 {
		return fmt.Errorf("query durations must not be negative")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EVENTSTORE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EVENTSTORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Backend configuration
	if v := os.Getenv("EVENTSTORE_BACKEND_TYPE"); v != "" {
		cfg.Backend.Type = BackendType(v)
	}
	if v := os.Getenv("EVENTSTORE_BACKEND_ADDR"); v != "" {
		cfg.Backend.Addr = v
	}
	if v := os.Getenv("EVENTSTORE_BACKEND_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.CallTimeout = d
		}
	}

	// gRPC configuration
	if v := os.Getenv("EVENTSTORE_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}

	// Query configuration
	if v := os.Getenv("EVENTSTORE_QUERY_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.Concurrency)
	}
	if v := os.Getenv("EVENTSTORE_QUERY_POOL_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.PoolSize)
	}
	if v := os.Getenv("EVENTSTORE_QUERY_DEFAULT_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.DefaultLimit)
	}
	if v := os.Getenv("EVENTSTORE_QUERY_MAX_LIMIT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.MaxLimit)
	}
	if v := os.Getenv("EVENTSTORE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.Timeout = d
		}
	}
	if v := os.Getenv("EVENTSTORE_QUERY_SLOW_QUERY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.SlowQueryThreshold = d
		}
	}
	if v := os.Getenv("EVENTSTORE_QUERY_MAX_CACHE_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Query.MaxCacheMB)
	}

	// Storage configuration
	if v := os.Getenv("EVENTSTORE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("EVENTSTORE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("EVENTSTORE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("EVENTSTORE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("EVENTSTORE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("EVENTSTORE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.WorkDir(), c.Query.DownloadDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
