package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
database:
  url: postgres://crawler@localhost:5432/econ
  max_conns: 4
sources:
  api_keys:
    FRED: fred-key
    World_Bank: wb-key
  base_urls:
    fred: http://localhost:9999/fred
  timeout_seconds: 5
rate_limit:
  preset: conservative
  redis_addr: localhost:6379
storage:
  backend: local
  local_dir: /tmp/raw
scheduler:
  batch_size: 25
  series_count: 3
  item_timeout_seconds: 30
  inter_item_delay_ms: 0
maintenance:
  cycle: "0 0 */6 * * *"
  lease_minutes: 15
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Database.URL == "" || cfg.Database.MaxConns != 4 {
		t.Fatalf("expected database overrides, got %+v", cfg.Database)
	}
	if got := cfg.APIKey("fred"); got != "fred-key" {
		t.Fatalf("expected fred key, got %q", got)
	}
	if got := cfg.APIKey("World Bank"); got != "wb-key" {
		t.Fatalf("expected world bank key under normalised name, got %q", got)
	}
	if cfg.Sources.BaseURLs["fred"] != "http://localhost:9999/fred" {
		t.Fatalf("expected base url override, got %+v", cfg.Sources.BaseURLs)
	}
	if cfg.RateLimit.Preset != "conservative" || cfg.RateLimit.RedisAddr != "localhost:6379" {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.RateLimit)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.LocalDir != "/tmp/raw" {
		t.Fatalf("expected local storage, got %+v", cfg.Storage)
	}
	if cfg.Scheduler.BatchSize != 25 || cfg.Scheduler.SeriesCount != 3 {
		t.Fatalf("expected scheduler overrides, got %+v", cfg.Scheduler)
	}
	if got := cfg.ItemTimeout(); got != 30*time.Second {
		t.Fatalf("expected item timeout 30s, got %v", got)
	}
	if got := cfg.InterItemDelay(); got != 0 {
		t.Fatalf("expected no inter-item delay, got %v", got)
	}
	if got := cfg.Lease(); got != 15*time.Minute {
		t.Fatalf("expected lease 15m, got %v", got)
	}
	if cfg.Maintenance.Cycle != "0 0 */6 * * *" {
		t.Fatalf("expected cycle schedule, got %q", cfg.Maintenance.Cycle)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.SeriesCount != 5 || cfg.Scheduler.BatchSize != 100 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Storage.Backend != "none" {
		t.Fatalf("expected storage disabled by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Maintenance.LeaseSweep == "" || cfg.Maintenance.Cycle != "" {
		t.Fatalf("unexpected maintenance defaults: %+v", cfg.Maintenance)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ECONCRAWL_SERVER_PORT", "7070")
	t.Setenv("ECONCRAWL_DATABASE_URL", "postgres://env@localhost/econ")
	t.Setenv("FRED_API_KEY", "from-env")
	t.Setenv("ECONCRAWL_SOURCES_API_KEYS_BLS", "bls-prefixed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env@localhost/econ" {
		t.Fatalf("expected env database url, got %q", cfg.Database.URL)
	}
	if got := cfg.APIKey("FRED"); got != "from-env" {
		t.Fatalf("expected FRED_API_KEY to be read, got %q", got)
	}
	if got := cfg.APIKey("bls"); got != "bls-prefixed" {
		t.Fatalf("expected prefixed BLS key, got %q", got)
	}
}

func TestWithAPIKeysOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{Sources: SourcesConfig{APIKeys: map[string]string{"fred": "file", "bls": "keep"}}}
	got := cfg.WithAPIKeys(map[string]string{"FRED": "cli", "BEA": " bea ", "IMF": ""})

	if got.APIKey("fred") != "cli" {
		t.Fatalf("expected CLI key to win, got %q", got.APIKey("fred"))
	}
	if got.APIKey("bls") != "keep" {
		t.Fatalf("expected untouched key to survive")
	}
	if got.APIKey("bea") != "bea" {
		t.Fatalf("expected trimmed bea key, got %q", got.APIKey("bea"))
	}
	if _, ok := got.Sources.APIKeys["imf"]; ok {
		t.Fatalf("expected blank override to be dropped")
	}
	if cfg.APIKey("fred") != "file" {
		t.Fatalf("expected original config to be unchanged")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080},
		Sources:     SourcesConfig{TimeoutSeconds: 10},
		RateLimit:   RateLimitConfig{Preset: "default"},
		Storage:     StorageConfig{Backend: "none"},
		Scheduler:   SchedulerConfig{BatchSize: 10, ItemTimeoutSeconds: 60},
		Maintenance: MaintenanceConfig{LeaseMinutes: 10},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Sources.TimeoutSeconds = 0 }, want: "sources.timeout_seconds"},
		{name: "unknown preset", mutate: func(c *Config) { c.RateLimit.Preset = "ludicrous" }, want: "rate_limit.preset"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub.topic_name"},
		{name: "zero batch", mutate: func(c *Config) { c.Scheduler.BatchSize = 0 }, want: "scheduler.batch_size"},
		{name: "negative series count", mutate: func(c *Config) { c.Scheduler.SeriesCount = -1 }, want: "scheduler.series_count"},
		{name: "zero lease", mutate: func(c *Config) { c.Maintenance.LeaseMinutes = 0 }, want: "maintenance.lease_minutes"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
