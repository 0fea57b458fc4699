// Package server builds the application's dependency graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/api"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/cache"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/clock/system"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/config"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/crawler"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/extract"
	collyfetcher "github.com/JakeFAU/quizbowl-topic-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/id/uuid"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/listing"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/logging"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/quizbowl-topic-catalog/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/quizbowl-topic-catalog/internal/publisher/pubsub"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/retry"
	gcsstorage "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/gcs"
	localstorage "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/local"
	memorystorage "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/memory"
	pgstore "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/postgres"
	redisstore "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/redis"
	s3store "github.com/JakeFAU/quizbowl-topic-catalog/internal/storage/s3"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           *system.Clock
	ids             *uuid.Generator
	pipeline        *crawler.Pipeline
	catalog         *cache.Cache
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	redisClient     *goredis.Client
	pgStore         *pgstore.Store
}

// NewApp creates an App shell holding configuration and logger.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("listing_url", cfg.Source.ListingURL),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.String("notify_backend", cfg.Notify.Backend),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Catalog returns the cached snapshot source.
func (a *App) Catalog() *cache.Cache {
	return a.catalog
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}

// Close waits for any in-flight catalog build, then releases backend clients.
// It is safe to call on a partially built App.
func (a *App) Close() {
	if a.catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		if err := a.catalog.Shutdown(ctx); err != nil {
			a.logger.Warn("catalog build interrupted at shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	// Sync fails on console sinks; nothing useful to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	app.pipeline, err = setupPipeline(app)
	if err != nil {
		return nil, err
	}

	store, err := setupStore(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.catalog, err = cache.New(cache.Config{
		TTL:              cfg.Cache.TTL,
		SingleFlight:     cfg.Cache.SingleFlight,
		ServeUnpersisted: cfg.Cache.ServeUnpersisted,
	}, store, app.pipeline, app.clock, publisher, logger.Named("cache"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.catalog, app.ids, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		APIKey:         cfg.Server.APIKey,
	}, logger.Named("api"))

	return app, nil
}

func setupPipeline(app *App) (*crawler.Pipeline, error) {
	cfg := app.cfg
	limiter := ratelimit.New(cfg.HTTP.RateLimit)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.DetailTimeout,
		Headers:   cfg.HTTP.RequestHeaders(),
	}, limiter, app.logger.Named("fetcher"))
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Float64("requests_per_second", cfg.HTTP.RateLimit.RequestsPerSecond),
	)

	index, err := listing.New(listing.Config{
		URL:                cfg.Source.ListingURL,
		HeadingSelector:    cfg.Source.HeadingSelector,
		AnchorSelector:     cfg.Source.AnchorSelector,
		TopicPattern:       cfg.Source.TopicPattern,
		ExcludedCategories: cfg.Source.ExcludedCategories,
		Timeout:            cfg.HTTP.ListingTimeout,
	}, fetcher, app.logger.Named("listing"))
	if err != nil {
		return nil, fmt.Errorf("listing init failed: %w", err)
	}

	controller := retry.NewController(
		retry.NewJitterBackoffPolicy(cfg.Retry),
		app.clock,
		app.logger.Named("retry"),
	)
	extractor := extract.New(extract.Options{
		MinLength: cfg.Extract.MinClueLength,
		Marker:    cfg.Extract.ClueMarker,
	})
	scraper := crawler.NewScraper(crawler.ScraperConfig{
		Timeout: cfg.HTTP.DetailTimeout,
		Referer: index.URL(),
	}, fetcher, controller, extractor, app.logger.Named("scraper"))
	batches := crawler.NewBatchCrawler(crawler.BatchConfig{
		Size:  cfg.Batch.Size,
		Delay: cfg.Batch.Delay,
	}, scraper, app.clock, app.logger.Named("batch"))

	return crawler.NewPipeline(index, batches, app.clock, app.logger.Named("pipeline")), nil
}

func setupStore(ctx context.Context, app *App) (cache.Store, error) {
	cfg := app.cfg.Cache
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		app.logger.Info("using GCS cache backend", zap.String("uri", store.URI()))
		return store, nil
	case config.BackendS3:
		store, err := s3store.Open(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 store init failed: %w", err)
		}
		app.logger.Info("using S3 cache backend", zap.String("uri", store.URI()))
		return store, nil
	case config.BackendRedis:
		store, client, err := redisstore.Open(ctx, cfg.Redis, app.clock)
		if err != nil {
			return nil, fmt.Errorf("redis store init failed: %w", err)
		}
		app.redisClient = client
		app.logger.Info("using Redis cache backend", zap.String("addr", cfg.Redis.Addr))
		return store, nil
	case config.BackendPostgres:
		store, err := pgstore.Open(ctx, cfg.Postgres, app.ids, app.clock)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pgStore = store
		app.logger.Info("using Postgres cache backend", zap.String("table", cfg.Postgres.Table))
		return store, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory cache backend")
		return memorystorage.New(app.clock), nil
	default:
		store, err := localstorage.New(localstorage.Config{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		app.logger.Info("using local cache backend", zap.String("path", store.Path()))
		return store, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (catalog.Publisher, error) {
	cfg := app.cfg.Notify
	switch cfg.Backend {
	case config.NotifyPubSub:
		publisher, client, err := gcppublisher.Open(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = publisher
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
		)
		return publisher, nil
	case config.NotifyMemory:
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Debug("refresh notifications disabled")
		return nil, nil
	}
}
