package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 24*time.Hour || !cfg.Cache.SingleFlight || cfg.Cache.ServeUnpersisted {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Cache.Backend != BackendLocal || cfg.Cache.Path != "data/naqt_topics_cache.json" {
		t.Fatalf("unexpected cache location: %+v", cfg.Cache)
	}
	if cfg.Batch.Size != 5 || cfg.Batch.Delay != 2*time.Second {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.JitterMin != 500*time.Millisecond ||
		cfg.Retry.JitterMax != 1500*time.Millisecond || cfg.Retry.BackoffStep != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.HTTP.ListingTimeout != 30*time.Second || cfg.HTTP.DetailTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.HTTP)
	}
	if cfg.Extract.MinClueLength != 100 || cfg.Extract.ClueMarker != "label" {
		t.Fatalf("unexpected extract defaults: %+v", cfg.Extract)
	}
	if len(cfg.Source.ExcludedCategories) != 1 || cfg.Source.ExcludedCategories[0] != "By Publication Date" {
		t.Fatalf("unexpected excluded categories: %v", cfg.Source.ExcludedCategories)
	}
	if got := cfg.HTTP.RequestHeaders().Get("Accept-Language"); got != "en-US,en;q=0.9" {
		t.Fatalf("expected browser headers, got Accept-Language=%q", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
source:
  listing_url: https://example.com/index.html
  excluded_categories: ["Archive", "By Publication Date"]
http:
  user_agent: catalog-bot/1.0
  detail_timeout: 5s
  requests_per_second: 2.5
  burst: 3
retry:
  max_retries: 4
  jitter_min: 0s
  jitter_max: 250ms
batch:
  size: 10
  delay: 500ms
cache:
  backend: redis
  ttl: 6h
  single_flight: false
  serve_unpersisted: true
  redis:
    addr: localhost:6379
    key: quiz:catalog
notify:
  backend: memory
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

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Source.ListingURL != "https://example.com/index.html" || len(cfg.Source.ExcludedCategories) != 2 {
		t.Fatalf("expected source overrides: %+v", cfg.Source)
	}
	if cfg.HTTP.UserAgent != "catalog-bot/1.0" || cfg.HTTP.DetailTimeout != 5*time.Second {
		t.Fatalf("expected http overrides: %+v", cfg.HTTP)
	}
	if cfg.HTTP.RateLimit.RequestsPerSecond != 2.5 || cfg.HTTP.RateLimit.Burst != 3 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.HTTP.RateLimit)
	}
	if cfg.Retry.MaxRetries != 4 || cfg.Retry.JitterMax != 250*time.Millisecond {
		t.Fatalf("expected retry overrides: %+v", cfg.Retry)
	}
	if cfg.Batch.Size != 10 || cfg.Batch.Delay != 500*time.Millisecond {
		t.Fatalf("expected batch overrides: %+v", cfg.Batch)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.TTL != 6*time.Hour ||
		cfg.Cache.SingleFlight || !cfg.Cache.ServeUnpersisted {
		t.Fatalf("expected cache overrides: %+v", cfg.Cache)
	}
	if cfg.Cache.Redis.Addr != "localhost:6379" || cfg.Cache.Redis.Key != "quiz:catalog" {
		t.Fatalf("expected redis overrides: %+v", cfg.Cache.Redis)
	}
	if cfg.Notify.Backend != NotifyMemory || cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected notify/logging overrides: %+v %+v", cfg.Notify, cfg.Logging)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CATALOG_CACHE_TTL", "90m")
	t.Setenv("CATALOG_BATCH_SIZE", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.TTL != 90*time.Minute {
		t.Fatalf("expected env TTL 90m, got %v", cfg.Cache.TTL)
	}
	if cfg.Batch.Size != 3 {
		t.Fatalf("expected env batch size 3, got %d", cfg.Batch.Size)
	}
}

func TestLoadEnvOverrideBackendSettings(t *testing.T) {
	t.Setenv("CATALOG_CACHE_BACKEND", "redis")
	t.Setenv("CATALOG_CACHE_REDIS_ADDR", "cache.internal:6379")
	t.Setenv("CATALOG_CACHE_REDIS_PASSWORD", "hunter2")
	t.Setenv("CATALOG_CACHE_REDIS_DB", "4")
	t.Setenv("CATALOG_CACHE_POSTGRES_DSN", "postgres://catalog:secret@db/catalog")
	t.Setenv("CATALOG_CACHE_S3_REGION", "us-east-2")
	t.Setenv("CATALOG_NOTIFY_BACKEND", "pubsub")
	t.Setenv("CATALOG_NOTIFY_PUBSUB_PROJECT_ID", "quizbowl")
	t.Setenv("CATALOG_NOTIFY_PUBSUB_TOPIC", "catalog-refreshed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.Redis.Addr != "cache.internal:6379" {
		t.Fatalf("expected redis backend from env, got %+v", cfg.Cache)
	}
	if cfg.Cache.Redis.Password != "hunter2" || cfg.Cache.Redis.DB != 4 {
		t.Fatalf("expected redis credentials from env, got %+v", cfg.Cache.Redis)
	}
	if cfg.Cache.Postgres.DSN != "postgres://catalog:secret@db/catalog" {
		t.Fatalf("expected postgres dsn from env, got %q", cfg.Cache.Postgres.DSN)
	}
	if cfg.Cache.S3.Region != "us-east-2" {
		t.Fatalf("expected s3 region from env, got %q", cfg.Cache.S3.Region)
	}
	if cfg.Notify.PubSub.ProjectID != "quizbowl" || cfg.Notify.PubSub.Topic != "catalog-refreshed" {
		t.Fatalf("expected pubsub settings from env, got %+v", cfg.Notify.PubSub)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Source: SourceConfig{ListingURL: "https://example.com"},
		HTTP:   HTTPConfig{ListingTimeout: time.Second, DetailTimeout: time.Second},
		Batch:  BatchConfig{Size: 5},
		Cache:  CacheConfig{Backend: BackendMemory, TTL: time.Hour},
		Notify: NotifyConfig{Backend: NotifyNone},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing listing url", func(c *Config) { c.Source.ListingURL = "" }, "source.listing_url"},
		{"invalid timeout", func(c *Config) { c.HTTP.DetailTimeout = 0 }, "http.listing_timeout"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"inverted jitter", func(c *Config) { c.Retry.JitterMin = time.Second }, "retry.jitter_max"},
		{"invalid batch size", func(c *Config) { c.Batch.Size = 0 }, "batch.size"},
		{"negative batch delay", func(c *Config) { c.Batch.Delay = -time.Second }, "batch.delay"},
		{"invalid ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "dynamo" }, "cache.backend"},
		{"local without path", func(c *Config) { c.Cache.Backend = BackendLocal }, "cache.path"},
		{"gcs without bucket", func(c *Config) { c.Cache.Backend = BackendGCS }, "cache.gcs.bucket"},
		{"s3 without bucket", func(c *Config) { c.Cache.Backend = BackendS3 }, "cache.s3.bucket"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = BackendRedis }, "cache.redis.addr"},
		{"postgres without dsn", func(c *Config) { c.Cache.Backend = BackendPostgres }, "cache.postgres.dsn"},
		{"pubsub without topic", func(c *Config) { c.Notify.Backend = NotifyPubSub }, "notify.pubsub"},
		{"unknown notifier", func(c *Config) { c.Notify.Backend = "sns" }, "notify.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
