package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.BatchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", cfg.Harvest.BatchSize)
	}
	lo, hi := cfg.Harvest.DelayBounds()
	if lo != 2*time.Second || hi != 4*time.Second {
		t.Fatalf("expected 2s-4s delay window, got %v-%v", lo, hi)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.BufferRetention != 50 {
		t.Fatalf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Source.Selectors.Content != "div.content" || cfg.Source.Selectors.Challenge != "#challenge-form" {
		t.Fatalf("unexpected selector defaults: %+v", cfg.Source.Selectors)
	}
	if cfg.Events.PubSub.Enabled() {
		t.Fatal("pubsub should be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
harvest:
  batch_size: 250
  delay_min_ms: 0
  delay_max_ms: 10
  fetch_timeout_seconds: 5
source:
  user_agent: test-agent
  selectors:
    content: "#chapter"
  headless:
    enabled: true
    max_parallel: 2
store:
  driver: postgres
  buffer_retention: 75
  postgres:
    dsn: postgres://localhost/harvester
output:
  driver: gcs
  gcs:
    bucket: novels
events:
  pubsub:
    project_id: proj
    topic: harvest-events
server:
  port: 9090
  api_key: secret
  concurrency: 3
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.BatchSize != 250 || cfg.Harvest.FetchTimeout() != 5*time.Second {
		t.Fatalf("expected harvest overrides: %+v", cfg.Harvest)
	}
	if cfg.Source.UserAgent != "test-agent" || cfg.Source.Selectors.Content != "#chapter" {
		t.Fatalf("expected source overrides: %+v", cfg.Source)
	}
	if cfg.Source.Selectors.Title != "span.title" {
		t.Fatalf("expected untouched selectors to keep defaults, got %q", cfg.Source.Selectors.Title)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.BufferRetention != 75 {
		t.Fatalf("expected store overrides: %+v", cfg.Store)
	}
	if cfg.Output.Driver != "gcs" || cfg.Output.GCS.Bucket != "novels" {
		t.Fatalf("expected output overrides: %+v", cfg.Output)
	}
	if !cfg.Events.PubSub.Enabled() {
		t.Fatal("expected pubsub to be enabled")
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" || cfg.Server.Concurrency != 3 {
		t.Fatalf("expected server overrides: %+v", cfg.Server)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadOutOfRangeBatchSizeIsNotAnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("harvest:\n  batch_size: 5000\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.BatchSize != 5000 {
		t.Fatalf("expected raw batch size to be preserved, got %d", cfg.Harvest.BatchSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "delay window inverted", mutate: func(c *Config) { c.Harvest.DelayMinMs = 5000 }, wantErr: "delay_min_ms"},
		{name: "zero fetch timeout", mutate: func(c *Config) { c.Harvest.FetchTimeoutSeconds = 0 }, wantErr: "fetch_timeout_seconds"},
		{name: "bad id pattern", mutate: func(c *Config) { c.Source.IDPattern = "([" }, wantErr: "id_pattern"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: "store.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: "dsn"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "mongo"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Output.Driver = "gcs" }, wantErr: "bucket"},
		{name: "half pubsub", mutate: func(c *Config) { c.Events.PubSub.Topic = "t" }, wantErr: "pubsub"},
		{name: "negative rate limit", mutate: func(c *Config) { c.Source.RateLimit.RPS = -1 }, wantErr: "rate_limit"},
		{name: "zero retention", mutate: func(c *Config) { c.Store.BufferRetention = 0 }, wantErr: "buffer_retention"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Server.Concurrency = 0 }, wantErr: "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
