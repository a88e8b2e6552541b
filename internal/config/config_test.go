package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Path != filepath.Join(cfg.DataDir, "storage") {
		t.Errorf("unexpected storage path %s", cfg.Storage.Path)
	}
	if cfg.Query.DownloadDir != filepath.Join(cfg.DataDir, "downloads") {
		t.Errorf("unexpected download dir %s", cfg.Query.DownloadDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"remote without addr", func(c *Config) { c.Backend.Type = BackendRemote }, "backend.addr"},
		{"unknown backend", func(c *Config) { c.Backend.Type = "clickhouse" }, "invalid backend type"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "gcs" }, "invalid storage type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "s3.bucket"},
		{"default above max", func(c *Config) { c.Query.DefaultLimit = 5000 }, "default_limit"},
		{"zero concurrency", func(c *Config) { c.Query.Concurrency = 0 }, "concurrency"},
		{"negative timeout", func(c *Config) { c.Query.Timeout = -time.Second }, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventstore.yaml")
	content := `
data_dir: /var/lib/eventstore
backend:
  type: remote
  addr: query.internal:9090
  call_timeout: 3s
query:
  max_limit: 500
  timeout: 5s
storage:
  type: s3
  s3:
    bucket: events
    use_path_style: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Backend.Type != BackendRemote || cfg.Backend.Addr != "query.internal:9090" || cfg.Backend.CallTimeout != 3*time.Second {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Query.MaxLimit != 500 || cfg.Query.Timeout != 5*time.Second {
		t.Errorf("unexpected query config %+v", cfg.Query)
	}
	// Unset keys keep their defaults.
	if cfg.Query.DefaultLimit != 100 || cfg.Storage.S3.Region != "us-east-1" {
		t.Errorf("defaults lost: %+v", cfg.Query)
	}
	if !cfg.Storage.S3.UsePathStyle || cfg.Storage.S3.Bucket != "events" {
		t.Errorf("unexpected s3 config %+v", cfg.Storage.S3)
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventstore.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for .toml config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTSTORE_BACKEND_TYPE", "remote")
	t.Setenv("EVENTSTORE_BACKEND_ADDR", "localhost:9999")
	t.Setenv("EVENTSTORE_BACKEND_CALL_TIMEOUT", "750ms")
	t.Setenv("EVENTSTORE_QUERY_MAX_LIMIT", "250")
	t.Setenv("EVENTSTORE_QUERY_TIMEOUT", "2s")
	t.Setenv("EVENTSTORE_S3_USE_PATH_STYLE", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.Backend.Type != BackendRemote || cfg.Backend.Addr != "localhost:9999" || cfg.Backend.CallTimeout != 750*time.Millisecond {
		t.Errorf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Query.MaxLimit != 250 || cfg.Query.Timeout != 2*time.Second {
		t.Errorf("unexpected query config %+v", cfg.Query)
	}
	if !cfg.Storage.S3.UsePathStyle {
		t.Error("expected path-style addressing")
	}
}
