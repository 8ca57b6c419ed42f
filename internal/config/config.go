// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
)

// EnvPrefix namespaces every environment override (ECONCRAWL_DATABASE_URL, ...).
const EnvPrefix = "ECONCRAWL"

// conventionalKeyEnv maps sources to the unprefixed env vars providers document.
var conventionalKeyEnv = map[string]string{
	"fred": "FRED_API_KEY",
	"bls":  "BLS_API_KEY",
	"bea":  "BEA_API_KEY",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig controls the Postgres pool. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL                    string `mapstructure:"url"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SourcesConfig configures provider adapters and the shared HTTP client.
type SourcesConfig struct {
	// APIKeys and BaseURLs are keyed by normalised source name.
	APIKeys          map[string]string `mapstructure:"api_keys"`
	BaseURLs         map[string]string `mapstructure:"base_urls"`
	UserAgent        string            `mapstructure:"user_agent"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	MaxRetries       int               `mapstructure:"max_retries"`
	RetryBaseDelayMs int               `mapstructure:"retry_base_delay_ms"`
	MaxSeries        int               `mapstructure:"max_series"`
}

// RateLimitConfig picks the limiter preset and optional Redis backend.
type RateLimitConfig struct {
	Preset        string `mapstructure:"preset"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// StorageConfig selects where raw provider payloads are archived.
type StorageConfig struct {
	// Backend is one of none, memory, local or gcs.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the attempt event destination. An empty project id
// keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SchedulerConfig tunes crawl cycles.
type SchedulerConfig struct {
	BatchSize            int    `mapstructure:"batch_size"`
	SeriesCount          int    `mapstructure:"series_count"`
	ItemTimeoutSeconds   int    `mapstructure:"item_timeout_seconds"`
	InterItemDelayMs     int    `mapstructure:"inter_item_delay_ms"`
	WorkerID             string `mapstructure:"worker_id"`
	DiscoveryConcurrency int    `mapstructure:"discovery_concurrency"`
}

// MaintenanceConfig holds six-field cron expressions; empty disables a job.
type MaintenanceConfig struct {
	LeaseSweep     string `mapstructure:"lease_sweep"`
	RetryPromotion string `mapstructure:"retry_promotion"`
	Stats          string `mapstructure:"stats"`
	Cycle          string `mapstructure:"cycle"`
	LeaseMinutes   int    `mapstructure:"lease_minutes"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env files, an optional config file and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for source, env := range conventionalKeyEnv {
		key := "sources.api_keys." + source
		if err := v.BindEnv(key, EnvPrefix+"_SOURCES_API_KEYS_"+strings.ToUpper(source), env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Sources.APIKeys = normalizeKeys(cfg.Sources.APIKeys)
	cfg.Sources.BaseURLs = normalizeKeys(cfg.Sources.BaseURLs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("sources.user_agent", "econ-series-crawler/1.0")
	v.SetDefault("sources.timeout_seconds", 30)
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("sources.retry_base_delay_ms", 1000)
	v.SetDefault("sources.max_series", 100)
	v.SetDefault("rate_limit.preset", "default")
	v.SetDefault("rate_limit.redis_prefix", "econcrawl:ratelimit")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.local_dir", "data/raw")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("pubsub.topic_name", "crawl-attempts")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.series_count", 5)
	v.SetDefault("scheduler.item_timeout_seconds", 120)
	v.SetDefault("scheduler.inter_item_delay_ms", 100)
	v.SetDefault("scheduler.worker_id", "scheduler")
	v.SetDefault("scheduler.discovery_concurrency", 4)
	v.SetDefault("maintenance.lease_sweep", "0 */5 * * * *")
	v.SetDefault("maintenance.retry_promotion", "30 * * * * *")
	v.SetDefault("maintenance.stats", "0 */15 * * * *")
	v.SetDefault("maintenance.cycle", "")
	v.SetDefault("maintenance.lease_minutes", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Sources.TimeoutSeconds <= 0 {
		return fmt.Errorf("sources.timeout_seconds must be > 0")
	}
	if c.Sources.MaxRetries < 0 {
		return fmt.Errorf("sources.max_retries must be >= 0")
	}
	switch c.RateLimit.Preset {
	case "default", "conservative", "aggressive":
	default:
		return fmt.Errorf("rate_limit.preset must be default, conservative or aggressive")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.SeriesCount < 0 {
		return fmt.Errorf("scheduler.series_count must be >= 0")
	}
	if c.Scheduler.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.item_timeout_seconds must be > 0")
	}
	if c.Maintenance.LeaseMinutes <= 0 {
		return fmt.Errorf("maintenance.lease_minutes must be > 0")
	}
	return nil
}

// ItemTimeout is the per-series crawl deadline.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Scheduler.ItemTimeoutSeconds) * time.Second
}

// InterItemDelay is the pause between dispatched items.
func (c Config) InterItemDelay() time.Duration {
	return time.Duration(c.Scheduler.InterItemDelayMs) * time.Millisecond
}

// Lease is how long a claim may stay in processing before the sweep frees it.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Maintenance.LeaseMinutes) * time.Minute
}

// WithAPIKeys returns a copy of c with overrides merged into the source API
// keys. Override keys are source names in any case ("FRED", "World_Bank").
func (c Config) WithAPIKeys(overrides map[string]string) Config {
	merged := make(map[string]string, len(c.Sources.APIKeys)+len(overrides))
	for k, v := range c.Sources.APIKeys {
		merged[k] = v
	}
	for k, v := range normalizeKeys(overrides) {
		merged[k] = v
	}
	c.Sources.APIKeys = merged
	return c
}

// APIKey returns the configured key for a source, or "".
func (c Config) APIKey(source string) string {
	return c.Sources.APIKeys[crawler.NormalizeSourceName(source)]
}

func normalizeKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[crawler.NormalizeSourceName(k)] = v
		}
	}
	return out
}
