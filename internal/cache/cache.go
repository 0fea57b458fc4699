// Package cache serves the catalog snapshot from a persisted artifact and
// rebuilds it once the artifact is older than the configured TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/hash/sha256"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
)

// DefaultTTL is how long a persisted snapshot stays valid.
const DefaultTTL = 24 * time.Hour

// EventRefreshed is the notification topic published after a rebuild is persisted.
const EventRefreshed = "catalog.refreshed"

const flightKey = "snapshot"

// ErrClosed is returned when a rebuild is requested after Shutdown.
var ErrClosed = errors.New("cache: shut down")

// Store persists the encoded snapshot artifact. ModTime and Read return
// catalog.ErrNotFound when nothing has been written yet.
type Store interface {
	ModTime(ctx context.Context) (time.Time, error)
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Builder produces a fresh snapshot, typically by crawling.
type Builder interface {
	Build(ctx context.Context) (catalog.Snapshot, error)
}

// Config controls cache validity and miss handling.
type Config struct {
	TTL time.Duration
	// SingleFlight collapses concurrent misses into one build.
	SingleFlight bool
	// ServeUnpersisted returns a freshly built snapshot even when it could
	// not be written; otherwise the write error is returned.
	ServeUnpersisted bool
}

// RefreshedEvent is the payload of an EventRefreshed notification.
type RefreshedEvent struct {
	Categories  int       `json:"categories"`
	Topics      int       `json:"topics"`
	Digest      string    `json:"digest"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Cache fronts a Store with TTL validation and a rebuild path.
type Cache struct {
	cfg       Config
	store     Store
	builder   Builder
	clock     catalog.Clock
	publisher catalog.Publisher
	logger    *zap.Logger
	hasher    *sha256.Hasher
	group     singleflight.Group

	// base is canceled by Shutdown once the grace period runs out.
	base   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	builds sync.WaitGroup
}

// New builds a Cache. publisher may be nil.
func New(
	cfg Config,
	store Store,
	builder Builder,
	clock catalog.Clock,
	publisher catalog.Publisher,
	logger *zap.Logger,
) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache: store is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("cache: builder is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("cache: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	base, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:       cfg,
		store:     store,
		builder:   builder,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
		hasher:    sha256.New(),
		base:      base,
		cancel:    cancel,
	}, nil
}

// Get returns the persisted snapshot while it is fresh and rebuilds it
// otherwise. Any failure to stat, read or decode the artifact is a miss.
func (c *Cache) Get(ctx context.Context) (catalog.Snapshot, error) {
	if snapshot, ok := c.lookup(ctx); ok {
		return snapshot, nil
	}
	return c.rebuild(ctx)
}

// Refresh rebuilds and persists the snapshot regardless of its age.
func (c *Cache) Refresh(ctx context.Context) (catalog.Snapshot, error) {
	return c.rebuild(ctx)
}

// Fresh reports whether a valid artifact is currently persisted.
func (c *Cache) Fresh(ctx context.Context) bool {
	modified, err := c.store.ModTime(ctx)
	return err == nil && c.valid(modified)
}

func (c *Cache) valid(modified time.Time) bool {
	return c.clock.Now().Sub(modified) < c.cfg.TTL
}

func (c *Cache) lookup(ctx context.Context) (catalog.Snapshot, bool) {
	modified, err := c.store.ModTime(ctx)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			c.logger.Warn("cache stat failed", zap.Error(err))
		}
		metrics.ObserveCacheLookup(metrics.CacheMiss)
		return catalog.Snapshot{}, false
	}
	if !c.valid(modified) {
		c.logger.Info("cache expired",
			zap.Time("modified", modified),
			zap.Duration("ttl", c.cfg.TTL),
		)
		metrics.ObserveCacheLookup(metrics.CacheStale)
		return catalog.Snapshot{}, false
	}

	data, err := c.store.Read(ctx)
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err))
		metrics.ObserveCacheLookup(metrics.CacheMiss)
		return catalog.Snapshot{}, false
	}
	snapshot, err := Decode(data)
	if err != nil {
		c.logger.Warn("cache decode failed", zap.Error(err))
		metrics.ObserveCacheLookup(metrics.CacheMiss)
		return catalog.Snapshot{}, false
	}
	metrics.ObserveCacheLookup(metrics.CacheHit)
	return snapshot, true
}

// Shutdown rejects new rebuilds and waits for in-flight ones. If ctx ends
// first, in-flight builds are canceled and Shutdown waits for them to return;
// a canceled build is never persisted.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.builds.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.logger.Warn("canceling in-flight catalog build")
		c.cancel()
		<-done
		return fmt.Errorf("wait for catalog build: %w", ctx.Err())
	}
}

func (c *Cache) rebuild(ctx context.Context) (catalog.Snapshot, error) {
	if !c.cfg.SingleFlight {
		return c.track(ctx)
	}

	// The shared build outlives any single waiter but not the cache.
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.track(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return catalog.Snapshot{}, fmt.Errorf("wait for catalog build: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return catalog.Snapshot{}, res.Err
		}
		snapshot, ok := res.Val.(catalog.Snapshot)
		if !ok {
			return catalog.Snapshot{}, fmt.Errorf("unexpected build result %T", res.Val)
		}
		return snapshot, nil
	}
}

// track runs one build that Shutdown can wait for and cancel.
func (c *Cache) track(ctx context.Context) (catalog.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return catalog.Snapshot{}, ErrClosed
	}
	c.builds.Add(1)
	c.mu.Unlock()
	defer c.builds.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()
	return c.buildAndPersist(ctx)
}

func (c *Cache) buildAndPersist(ctx context.Context) (catalog.Snapshot, error) {
	snapshot, err := c.builder.Build(ctx)
	if err != nil {
		return catalog.Snapshot{}, fmt.Errorf("build catalog: %w", err)
	}
	snapshot = snapshot.Normalize()

	data, err := Encode(snapshot)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	if err := c.store.Write(ctx, data); err != nil {
		if !c.cfg.ServeUnpersisted {
			return catalog.Snapshot{}, fmt.Errorf("persist catalog: %w", err)
		}
		c.logger.Error("persist catalog failed; serving unpersisted snapshot", zap.Error(err))
		return snapshot, nil
	}
	digest := c.hasher.Hash(data)
	c.logger.Info("catalog persisted",
		zap.Int("categories", len(snapshot.Categories)),
		zap.Int("topics", len(snapshot.Topics)),
		zap.String("digest", digest),
	)
	c.notify(ctx, snapshot, digest)
	return snapshot, nil
}

func (c *Cache) notify(ctx context.Context, snapshot catalog.Snapshot, digest string) {
	if c.publisher == nil {
		return
	}
	event := RefreshedEvent{
		Categories:  len(snapshot.Categories),
		Topics:      len(snapshot.Topics),
		Digest:      digest,
		RefreshedAt: c.clock.Now().UTC(),
	}
	id, err := c.publisher.Publish(ctx, EventRefreshed, event)
	if err != nil {
		c.logger.Warn("publish refresh event failed", zap.Error(err))
		return
	}
	c.logger.Debug("published refresh event", zap.String("message_id", id))
}

// Encode renders a snapshot as the indented JSON artifact.
func Encode(snapshot catalog.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snapshot.Normalize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return data, nil
}

// Decode parses a JSON artifact.
func Decode(data []byte) (catalog.Snapshot, error) {
	var snapshot catalog.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return catalog.Snapshot{}, fmt.Errorf("decode catalog: %w", err)
	}
	return snapshot.Normalize(), nil
}
