// Package redis persists the snapshot artifact in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
)

// DefaultKey holds the artifact; the write time lives at DefaultKey + ":modified".
const DefaultKey = "catalog:snapshot"

// Config captures connection and key settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// Store keeps the artifact and its write time under two keys.
type Store struct {
	client      goredis.Cmdable
	clock       catalog.Clock
	key         string
	modifiedKey string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, clock catalog.Clock) (*Store, *goredis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	store, err := New(client, cfg.Key, clock)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

// New builds a Store around an existing client.
func New(client goredis.Cmdable, key string, clock catalog.Clock) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, clock: clock, key: key, modifiedKey: key + ":modified"}, nil
}

// ModTime returns the recorded write time.
func (s *Store) ModTime(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.modifiedKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, catalog.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis get %s: %w", s.modifiedKey, err)
	}
	modified, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", s.modifiedKey, err)
	}
	return modified, nil
}

// Read returns the artifact.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Write stores the artifact and its write time in one MULTI/EXEC.
func (s *Store) Write(ctx context.Context, data []byte) error {
	modified := s.clock.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, data, 0)
	pipe.Set(ctx, s.modifiedKey, modified, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %s: %w", s.key, err)
	}
	return nil
}
