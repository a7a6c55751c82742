// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_HARVEST_BATCH_SIZE.
const EnvPrefix = "HARVESTER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	Source  SourceConfig  `mapstructure:"source"`
	Store   StoreConfig   `mapstructure:"store"`
	Output  OutputConfig  `mapstructure:"output"`
	Events  EventsConfig  `mapstructure:"events"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarvestConfig controls batching and pacing. An out-of-range batch size is
// not an error; the harvester falls back to its default.
type HarvestConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	DelayMinMs          int `mapstructure:"delay_min_ms"`
	DelayMaxMs          int `mapstructure:"delay_max_ms"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

// DelayBounds returns the pacing window.
func (h HarvestConfig) DelayBounds() (time.Duration, time.Duration) {
	return time.Duration(h.DelayMinMs) * time.Millisecond, time.Duration(h.DelayMaxMs) * time.Millisecond
}

// FetchTimeout returns the per-item fetch deadline.
func (h HarvestConfig) FetchTimeout() time.Duration {
	return time.Duration(h.FetchTimeoutSeconds) * time.Second
}

// SourceConfig describes how collection and item pages are fetched and read.
type SourceConfig struct {
	UserAgent         string          `mapstructure:"user_agent"`
	RespectRobots     bool            `mapstructure:"respect_robots"`
	CloudflareBypass  bool            `mapstructure:"cloudflare_bypass"`
	AllowedURLPrefix  string          `mapstructure:"allowed_url_prefix"`
	IDPattern         string          `mapstructure:"id_pattern"`
	Selectors         SelectorsConfig `mapstructure:"selectors"`
	Headless          HeadlessConfig  `mapstructure:"headless"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
	RequestTimeoutSec int             `mapstructure:"request_timeout_seconds"`
}

// RateLimitConfig caps requests per host across all concurrent harvests.
// A zero RPS leaves only the per-run pacing in effect.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// SelectorsConfig holds the CSS selectors used for field extraction.
type SelectorsConfig struct {
	Title       string `mapstructure:"title"`
	ChapterList string `mapstructure:"chapter_list"`
	ChapterLink string `mapstructure:"chapter_link"`
	Content     string `mapstructure:"content"`
	Challenge   string `mapstructure:"challenge"`
}

// HeadlessConfig switches page retrieval to a headless Chrome.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StoreConfig selects the progress store backend.
type StoreConfig struct {
	Driver          string         `mapstructure:"driver"`
	BufferRetention int            `mapstructure:"buffer_retention"`
	SQLite          SQLiteConfig   `mapstructure:"sqlite"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
	Mongo           MongoConfig    `mapstructure:"mongo"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to PostgreSQL.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// OutputConfig selects where artifacts are written.
type OutputConfig struct {
	Driver string    `mapstructure:"driver"`
	Dir    string    `mapstructure:"dir"`
	GCS    GCSConfig `mapstructure:"gcs"`
}

// GCSConfig names the bucket and object prefix for artifacts.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// EventsConfig sizes the progress hub and toggles sinks.
type EventsConfig struct {
	BufferSize     int          `mapstructure:"buffer_size"`
	MaxBatchEvents int          `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int          `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int          `mapstructure:"sink_timeout_ms"`
	Log            bool         `mapstructure:"log"`
	Prometheus     bool         `mapstructure:"prometheus"`
	PubSub         PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publishing events to Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether events should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// ServerConfig controls the HTTP service.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	APIKey      string `mapstructure:"api_key"`
	Concurrency int    `mapstructure:"concurrency"`
	QueueDepth  int    `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

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
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("harvest.batch_size", 100)
	v.SetDefault("harvest.delay_min_ms", 2000)
	v.SetDefault("harvest.delay_max_ms", 4000)
	v.SetDefault("harvest.fetch_timeout_seconds", 30)

	v.SetDefault("source.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("source.cloudflare_bypass", true)
	v.SetDefault("source.allowed_url_prefix", "https://czbooks.net/n/")
	v.SetDefault("source.id_pattern", `/n/([\w-]+)`)
	v.SetDefault("source.request_timeout_seconds", 20)
	v.SetDefault("source.selectors.title", "span.title")
	v.SetDefault("source.selectors.chapter_list", "ul.nav.chapter-list")
	v.SetDefault("source.selectors.chapter_link", "a")
	v.SetDefault("source.selectors.content", "div.content")
	v.SetDefault("source.selectors.challenge", "#challenge-form")
	v.SetDefault("source.headless.enabled", false)
	v.SetDefault("source.headless.max_parallel", 1)
	v.SetDefault("source.headless.nav_timeout_seconds", 45)
	v.SetDefault("source.rate_limit.rps", 0)
	v.SetDefault("source.rate_limit.burst", 1)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.buffer_retention", 50)
	v.SetDefault("store.sqlite.path", "harvester.db")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.mongo.database", "harvester")

	v.SetDefault("output.driver", "local")
	v.SetDefault("output.dir", "downloads")
	v.SetDefault("output.gcs.prefix", "harvests")

	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 64)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("events.sink_timeout_ms", 5000)
	v.SetDefault("events.log", true)
	v.SetDefault("events.prometheus", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.concurrency", 1)
	v.SetDefault("server.queue_depth", 16)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.DelayMinMs < 0 || c.Harvest.DelayMaxMs < 0 {
		return fmt.Errorf("harvest delays must be >= 0")
	}
	if c.Harvest.DelayMinMs > c.Harvest.DelayMaxMs {
		return fmt.Errorf("harvest.delay_min_ms must be <= harvest.delay_max_ms")
	}
	if c.Harvest.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("harvest.fetch_timeout_seconds must be > 0")
	}
	if _, err := regexp.Compile(c.Source.IDPattern); err != nil {
		return fmt.Errorf("source.id_pattern: %w", err)
	}
	if c.Source.Selectors.Title == "" || c.Source.Selectors.ChapterList == "" || c.Source.Selectors.Content == "" {
		return fmt.Errorf("source.selectors title, chapter_list and content are required")
	}
	if c.Source.Headless.Enabled && c.Source.Headless.MaxParallel <= 0 {
		return fmt.Errorf("source.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Source.RateLimit.RPS < 0 {
		return fmt.Errorf("source.rate_limit.rps must be >= 0")
	}
	if c.Store.BufferRetention <= 0 {
		return fmt.Errorf("store.buffer_retention must be > 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return fmt.Errorf("store.mongo.uri and store.mongo.database are required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Output.Driver {
	case "memory":
	case "local":
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir is required for the local driver")
		}
	case "gcs":
		if c.Output.GCS.Bucket == "" {
			return fmt.Errorf("output.gcs.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown output.driver %q", c.Output.Driver)
	}
	if (c.Events.PubSub.ProjectID == "") != (c.Events.PubSub.Topic == "") {
		return fmt.Errorf("events.pubsub.project_id and events.pubsub.topic must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Concurrency <= 0 {
		return fmt.Errorf("server.concurrency must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	return nil
}
