package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/crawler"
	pubmemory "github.com/JakeFAU/quizbowl-topic-catalog/internal/publisher/memory"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingBuilder struct {
	calls    atomic.Int32
	snapshot catalog.Snapshot
	err      error
	release  chan struct{}
}

func (b *countingBuilder) Build(context.Context) (catalog.Snapshot, error) {
	b.calls.Add(1)
	if b.release != nil {
		<-b.release
	}
	return b.snapshot, b.err
}

type failingStore struct {
	*memory.Store
	writeErr error
	readErr  error
}

func (s *failingStore) Write(ctx context.Context, data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.Store.Write(ctx, data)
}

func (s *failingStore) Read(ctx context.Context) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.Store.Read(ctx)
}

func sampleSnapshot() catalog.Snapshot {
	return catalog.Snapshot{
		Categories: []string{"Literature", "Science"},
		Topics: []catalog.Topic{
			{Title: "Novels", Content: "clue one\n\nclue two", Category: "Literature"},
			{Title: "Elements", Content: "clue three", Category: "Science"},
		},
	}
}

func newTestCache(t *testing.T, cfg Config, store Store, builder Builder, clock catalog.Clock, pub catalog.Publisher) *Cache {
	t.Helper()
	c, err := New(cfg, store, builder, clock, pub, nil)
	require.NoError(t, err)
	return c
}

func TestGetMissBuildsAndPersists(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.New(clock)
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	pub := pubmemory.New()
	c := newTestCache(t, Config{TTL: 24 * time.Hour}, store, builder, clock, pub)

	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
	assert.Equal(t, int32(1), builder.calls.Load())
	assert.Equal(t, 1, store.Writes())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRefreshed, msgs[0].Topic)
	event, ok := msgs[0].Payload.(RefreshedEvent)
	require.True(t, ok)
	assert.Equal(t, 2, event.Categories)
	assert.Equal(t, 2, event.Topics)
	assert.Len(t, event.Digest, 64)
}

func TestGetWithinTTLIsHit(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.New(clock)
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	c := newTestCache(t, Config{TTL: 24 * time.Hour}, store, builder, clock, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
	assert.Equal(t, int32(1), builder.calls.Load())
	assert.True(t, c.Fresh(context.Background()))
}

func TestGetAfterTTLRebuilds(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.New(clock)
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	c := newTestCache(t, Config{TTL: 24 * time.Hour}, store, builder, clock, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	assert.False(t, c.Fresh(context.Background()))
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), builder.calls.Load())
	assert.Equal(t, 2, store.Writes())
}

func TestGetCorruptArtifactIsMiss(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(clock)
	require.NoError(t, store.Write(context.Background(), []byte("{not json")))
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	c := newTestCache(t, Config{}, store, builder, clock, nil)

	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
	assert.Equal(t, int32(1), builder.calls.Load())
}

func TestGetReadFailureIsMiss(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	inner := memory.New(clock)
	require.NoError(t, inner.Write(context.Background(), []byte(`{"categories":[],"topics":[]}`)))
	store := &failingStore{Store: inner, readErr: errors.New("EIO")}
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	c := newTestCache(t, Config{}, store, builder, clock, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), builder.calls.Load())
}

func TestWriteFailure(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	boom := errors.New("disk full")

	t.Run("returns error by default", func(t *testing.T) {
		t.Parallel()
		store := &failingStore{Store: memory.New(clock), writeErr: boom}
		pub := pubmemory.New()
		c := newTestCache(t, Config{}, store, &countingBuilder{snapshot: sampleSnapshot()}, clock, pub)

		_, err := c.Get(context.Background())
		require.ErrorIs(t, err, boom)
		assert.Empty(t, pub.Messages())
	})

	t.Run("serves unpersisted when configured", func(t *testing.T) {
		t.Parallel()
		store := &failingStore{Store: memory.New(clock), writeErr: boom}
		c := newTestCache(t, Config{ServeUnpersisted: true}, store, &countingBuilder{snapshot: sampleSnapshot()}, clock, nil)

		got, err := c.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sampleSnapshot(), got)
	})
}

func TestBuildErrorPropagates(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	boom := errors.New("builder exploded")
	c := newTestCache(t, Config{SingleFlight: true}, memory.New(clock), &countingBuilder{err: boom}, clock, nil)

	_, err := c.Get(context.Background())
	require.ErrorIs(t, err, boom)
}

type staticListing struct{ listing catalog.Listing }

func (s staticListing) Fetch(context.Context) catalog.Listing { return s.listing }

type echoScraper struct{}

func (echoScraper) Scrape(_ context.Context, link catalog.TopicLink) (string, error) {
	return "clues for " + link.Title, nil
}

// cancelingPauser ends the caller's request at the first inter-batch pause.
type cancelingPauser struct{ cancel context.CancelFunc }

func (p cancelingPauser) Pause(context.Context, time.Duration) { p.cancel() }

func TestCanceledCrawlIsNotPersisted(t *testing.T) {
	t.Parallel()

	links := make([]catalog.TopicLink, 10)
	for i := range links {
		links[i] = catalog.TopicLink{Title: fmt.Sprintf("Topic %d", i), URL: fmt.Sprintf("/t/%d.html", i), Category: "Science"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	batch := crawler.NewBatchCrawler(crawler.BatchConfig{Size: 5}, echoScraper{}, cancelingPauser{cancel: cancel}, nil)
	pipeline := crawler.NewPipeline(
		staticListing{listing: catalog.Listing{Categories: []string{"Science"}, Links: links}},
		batch, clock, nil,
	)
	store := memory.New(clock)
	pub := pubmemory.New()
	c := newTestCache(t, Config{SingleFlight: false}, store, pipeline, clock, pub)

	_, err := c.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Writes())
	assert.False(t, c.Fresh(context.Background()))
	assert.Empty(t, pub.Messages())
}

func TestEmptySnapshotPersistsNormalized(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(clock)
	c := newTestCache(t, Config{}, store, &countingBuilder{}, clock, nil)

	got, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.Empty(), got)

	data, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"categories":[],"topics":[]}`, string(data))
}

func TestRefreshIgnoresFreshArtifact(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(clock)
	builder := &countingBuilder{snapshot: sampleSnapshot()}
	c := newTestCache(t, Config{}, store, builder, clock, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), builder.calls.Load())
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	builder := &countingBuilder{snapshot: sampleSnapshot(), release: make(chan struct{})}
	c := newTestCache(t, Config{SingleFlight: true}, memory.New(clock), builder, clock, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return builder.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight build.
	time.Sleep(50 * time.Millisecond)
	close(builder.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), builder.calls.Load())
}

func TestWaiterCancellation(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	builder := &countingBuilder{snapshot: sampleSnapshot(), release: make(chan struct{})}
	defer close(builder.release)
	c := newTestCache(t, Config{SingleFlight: true}, memory.New(clock), builder, clock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingBuilder struct{ started chan struct{} }

func (b *blockingBuilder) Build(ctx context.Context) (catalog.Snapshot, error) {
	close(b.started)
	<-ctx.Done()
	return catalog.Snapshot{}, ctx.Err()
}

func TestShutdownWaitsForInFlightBuild(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(clock)
	builder := &countingBuilder{snapshot: sampleSnapshot(), release: make(chan struct{})}
	c := newTestCache(t, Config{SingleFlight: true}, store, builder, clock, nil)

	getErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background())
		getErr <- err
	}()
	require.Eventually(t, func() bool { return builder.calls.Load() == 1 }, time.Second, time.Millisecond)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- c.Shutdown(context.Background()) }()

	select {
	case err := <-shutdownErr:
		t.Fatalf("Shutdown returned before the build finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(builder.release)
	require.NoError(t, <-shutdownErr)
	require.NoError(t, <-getErr)
	assert.Equal(t, 1, store.Writes())

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestShutdownCancelsBuildAfterGrace(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memory.New(clock)
	builder := &blockingBuilder{started: make(chan struct{})}
	c := newTestCache(t, Config{SingleFlight: true}, store, builder, clock, nil)

	getErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background())
		getErr <- err
	}()
	<-builder.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.ErrorIs(t, <-getErr, context.Canceled)
	assert.Equal(t, 0, store.Writes())
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	_, err := New(Config{}, nil, &countingBuilder{}, clock, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, memory.New(clock), nil, clock, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, memory.New(clock), &countingBuilder{}, nil, nil, nil)
	require.Error(t, err)

	c, err := New(Config{}, memory.New(clock), &countingBuilder{}, clock, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.cfg.TTL)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	data, err := Encode(catalog.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"categories\": [],\n  \"topics\": []\n}", string(data))

	_, err = Decode([]byte("nope"))
	require.Error(t, err)
}
