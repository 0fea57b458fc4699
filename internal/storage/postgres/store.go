// Package postgres persists snapshot artifacts as rows in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/hash/sha256"
)

const defaultTable = "catalog_snapshots"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// IDGenerator issues row IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store appends one row per write; the newest row is the current artifact.
type Store struct {
	pool   pool
	table  string
	ids    IDGenerator
	clock  catalog.Clock
	hasher *sha256.Hasher
}

// Open connects to Postgres and ensures the snapshot table exists.
func Open(ctx context.Context, cfg Config, ids IDGenerator, clock catalog.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, ids, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, ids IDGenerator, clock catalog.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table, ids: ids, clock: clock, hasher: sha256.New()}, nil
}

// EnsureSchema creates the snapshot table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	digest TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// ModTime returns the creation time of the newest row.
func (s *Store) ModTime(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf(`SELECT created_at FROM %s ORDER BY created_at DESC, id DESC LIMIT 1`, s.table)
	var created time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, catalog.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query latest snapshot time: %w", err)
	}
	return created, nil
}

// Read returns the newest payload.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY created_at DESC, id DESC LIMIT 1`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return payload, nil
}

// Write inserts a new snapshot row.
func (s *Store) Write(ctx context.Context, data []byte) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, payload, digest, created_at) VALUES ($1, $2, $3, $4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, data, s.hasher.Hash(data), s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
