// Package config loads and validates catalog service configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/policy/ratelimit"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/publisher/pubsub"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/retry"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/gcs"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/postgres"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/redis"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/s3"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_CACHE_TTL.
const EnvPrefix = "CATALOG"

// Cache backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Source  SourceConfig  `mapstructure:"source"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Retry   retry.Config  `mapstructure:"retry"`
	Extract ExtractConfig `mapstructure:"extract"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey guards POST /api/topics/refresh when set.
	APIKey string `mapstructure:"api_key"`
}

// SourceConfig locates the topic index and describes its markup.
type SourceConfig struct {
	ListingURL         string   `mapstructure:"listing_url"`
	HeadingSelector    string   `mapstructure:"heading_selector"`
	AnchorSelector     string   `mapstructure:"anchor_selector"`
	TopicPattern       string   `mapstructure:"topic_pattern"`
	ExcludedCategories []string `mapstructure:"excluded_categories"`
}

// HTTPConfig shapes outbound requests to the origin.
type HTTPConfig struct {
	UserAgent      string            `mapstructure:"user_agent"`
	ListingTimeout time.Duration     `mapstructure:"listing_timeout"`
	DetailTimeout  time.Duration     `mapstructure:"detail_timeout"`
	Headers        map[string]string `mapstructure:"headers"`
	RateLimit      ratelimit.Config  `mapstructure:",squash"`
}

// ExtractConfig tunes which list items count as clues.
type ExtractConfig struct {
	MinClueLength int    `mapstructure:"min_clue_length"`
	ClueMarker    string `mapstructure:"clue_marker"`
}

// BatchConfig controls detail page batching.
type BatchConfig struct {
	Size  int           `mapstructure:"size"`
	Delay time.Duration `mapstructure:"delay"`
}

// CacheConfig selects the artifact store and its validity window.
type CacheConfig struct {
	Backend          string          `mapstructure:"backend"`
	TTL              time.Duration   `mapstructure:"ttl"`
	SingleFlight     bool            `mapstructure:"single_flight"`
	ServeUnpersisted bool            `mapstructure:"serve_unpersisted"`
	Path             string          `mapstructure:"path"`
	GCS              gcs.Config      `mapstructure:"gcs"`
	S3               s3.Config       `mapstructure:"s3"`
	Redis            redis.Config    `mapstructure:"redis"`
	Postgres         postgres.Config `mapstructure:"postgres"`
}

// NotifyConfig selects where refresh notifications go.
type NotifyConfig struct {
	Backend string        `mapstructure:"backend"`
	PubSub  pubsub.Config `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("source.listing_url", "https://www.naqt.com/you-gotta-know/by-category.jsp")
	v.SetDefault("source.heading_selector", "h2")
	v.SetDefault("source.anchor_selector", "ul li a")
	v.SetDefault("source.topic_pattern", `/you-gotta-know/.*\.html`)
	v.SetDefault("source.excluded_categories", []string{"By Publication Date"})
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.listing_timeout", "30s")
	v.SetDefault("http.detail_timeout", "15s")
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.headers", map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.9",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Cache-Control":             "max-age=0",
	})
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.jitter_min", "500ms")
	v.SetDefault("retry.jitter_max", "1500ms")
	v.SetDefault("retry.backoff_step", "2s")
	v.SetDefault("extract.min_clue_length", 100)
	v.SetDefault("extract.clue_marker", "label")
	v.SetDefault("batch.size", 5)
	v.SetDefault("batch.delay", "2s")
	v.SetDefault("cache.backend", BackendLocal)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.single_flight", true)
	v.SetDefault("cache.serve_unpersisted", false)
	v.SetDefault("cache.path", "data/naqt_topics_cache.json")
	// Every key needs a default so AutomaticEnv can override it during Unmarshal.
	v.SetDefault("cache.gcs.bucket", "")
	v.SetDefault("cache.gcs.object", "naqt_topics_cache.json")
	v.SetDefault("cache.s3.bucket", "")
	v.SetDefault("cache.s3.key", "naqt_topics_cache.json")
	v.SetDefault("cache.s3.region", "")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key", "catalog:snapshot")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.table", "catalog_snapshots")
	v.SetDefault("cache.postgres.max_conns", 0)
	v.SetDefault("cache.postgres.min_conns", 0)
	v.SetDefault("cache.postgres.max_conn_lifetime", "0s")
	v.SetDefault("notify.backend", NotifyNone)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.ListingURL == "" {
		return fmt.Errorf("source.listing_url is required")
	}
	if c.HTTP.ListingTimeout <= 0 || c.HTTP.DetailTimeout <= 0 {
		return fmt.Errorf("http.listing_timeout and http.detail_timeout must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.JitterMax < c.Retry.JitterMin {
		return fmt.Errorf("retry.jitter_max must be >= retry.jitter_min")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if c.Batch.Delay < 0 {
		return fmt.Errorf("batch.delay must be >= 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	switch c.Notify.Backend {
	case NotifyNone, NotifyMemory:
	case NotifyPubSub:
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.Topic == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic are required for the pubsub backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Backend {
	case BackendLocal:
		if c.Path == "" {
			return fmt.Errorf("cache.path is required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("cache.gcs.bucket is required for the gcs backend")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("cache.s3.bucket is required for the s3 backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Backend)
	}
	return nil
}

// RequestHeaders returns the configured browser-like headers in canonical form.
func (c HTTPConfig) RequestHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
