// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/api"
	"github.com/JakeFAU/econ-series-crawler/internal/config"
	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/discovery"
	"github.com/JakeFAU/econ-series-crawler/internal/execution"
	"github.com/JakeFAU/econ-series-crawler/internal/maintenance"
	memorypublisher "github.com/JakeFAU/econ-series-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/econ-series-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/econ-series-crawler/internal/queue"
	"github.com/JakeFAU/econ-series-crawler/internal/ratelimit"
	"github.com/JakeFAU/econ-series-crawler/internal/scheduler"
	"github.com/JakeFAU/econ-series-crawler/internal/server"
	"github.com/JakeFAU/econ-series-crawler/internal/sources"
	gcsstorage "github.com/JakeFAU/econ-series-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/econ-series-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/econ-series-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/econ-series-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services built once at startup.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     crawler.Store
	pg        *pgstore.Store
	queue     *queue.Queue
	limiters  *ratelimit.Registry
	registry  *sources.Registry
	execution *execution.Service
	discovery *discovery.Orchestrator
	scheduler *scheduler.Scheduler
	reports   *api.Reports
	blobs     crawler.BlobStore
	publisher crawler.Publisher

	redis        *redis.Client
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
}

// Build creates every dependency from cfg. It fails fast when a configured
// backend cannot be reached.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, reports: &api.Reports{}}
	logger.Info("building application dependencies",
		zap.Bool("postgres", cfg.Database.URL != ""),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("rate_limit_preset", cfg.RateLimit.Preset),
	)

	if err := a.setupDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.queue = queue.New(a.store, logger.Named("queue"))
	a.limiters = ratelimit.NewRegistry(ratelimit.Config{
		Preset:      ratelimit.Preset(cfg.RateLimit.Preset),
		Redis:       a.redisCmdable(),
		RedisPrefix: cfg.RateLimit.RedisPrefix,
	}, logger.Named("ratelimit"))

	client := sources.NewClient(sources.ClientConfig{
		Timeout:        time.Duration(cfg.Sources.TimeoutSeconds) * time.Second,
		UserAgent:      cfg.Sources.UserAgent,
		MaxRetries:     cfg.Sources.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.Sources.RetryBaseDelayMs) * time.Millisecond,
	})
	a.registry = sources.BuildRegistry(sources.Config{
		APIKeys:   cfg.Sources.APIKeys,
		BaseURLs:  cfg.Sources.BaseURLs,
		MaxSeries: cfg.Sources.MaxSeries,
	}, client)
	logger.Debug("source adapters registered", zap.Strings("sources", a.registry.Names()))

	var execOpts []execution.Option
	if a.blobs != nil {
		execOpts = append(execOpts, execution.WithBlobStore(a.blobs))
	}
	if a.publisher != nil {
		execOpts = append(execOpts, execution.WithPublisher(a.publisher))
	}
	a.execution = execution.New(a.store, a.registry, a.limiters, logger, execution.Config{
		UserAgent:   cfg.Sources.UserAgent,
		EventsTopic: cfg.PubSub.TopicName,
	}, execOpts...)

	a.discovery = discovery.New(a.store, a.registry, logger,
		discovery.WithConcurrency(cfg.Scheduler.DiscoveryConcurrency))
	a.scheduler = scheduler.New(a.store, a.discovery, a.queue, a.execution, logger,
		scheduler.WithWorkerID(cfg.Scheduler.WorkerID),
		scheduler.WithReportHook(a.reports.Record),
	)
	return a, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		a.logger.Warn("no database url configured, using the in-memory store; state is lost on exit")
		a.store = memorystorage.NewStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.URL,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pg = pg
	a.store = pg
	a.logger.Info("postgres store initialized")
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.cfg.RateLimit.RedisAddr == "" {
		return nil
	}
	// The limiter bounds each call itself; keep go-redis from retrying past it.
	a.redis = redis.NewClient(&redis.Options{
		Addr:                  a.cfg.RateLimit.RedisAddr,
		Password:              a.cfg.RateLimit.RedisPassword,
		DB:                    a.cfg.RateLimit.RedisDB,
		DialTimeout:           time.Second,
		ReadTimeout:           500 * time.Millisecond,
		WriteTimeout:          500 * time.Millisecond,
		MaxRetries:            1,
		ContextTimeoutEnabled: true,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.logger.Info("shared rate limiting enabled", zap.String("redis_addr", a.cfg.RateLimit.RedisAddr))
	return nil
}

func (a *App) redisCmdable() redis.Cmdable {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "local":
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving raw payloads locally", zap.String("path", a.cfg.Storage.LocalDir))
	case "memory":
		a.blobs = memorystorage.NewBlobStore()
	default:
		a.logger.Debug("raw payload archiving disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, keeping attempt events in memory")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the persistence layer.
func (a *App) Store() crawler.Store { return a.store }

// Queue returns the crawl queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Scheduler returns the crawl scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Reports returns the latest-report holder fed by the scheduler.
func (a *App) Reports() *api.Reports { return a.reports }

// Publisher returns the attempt event publisher.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// CheckSchema verifies the database schema; the in-memory store always passes.
func (a *App) CheckSchema(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.CheckSchema(ctx)
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return fmt.Errorf("migrate requires a database url")
	}
	return a.pg.Migrate(ctx)
}

// CycleOptions returns the configured scheduler options.
func (a *App) CycleOptions() scheduler.Options {
	return scheduler.Options{
		SeriesCount:    a.cfg.Scheduler.SeriesCount,
		BatchSize:      a.cfg.Scheduler.BatchSize,
		ItemTimeout:    a.cfg.ItemTimeout(),
		InterItemDelay: a.cfg.InterItemDelay(),
	}
}

// RunCycle runs one scheduler cycle.
func (a *App) RunCycle(ctx context.Context, opts scheduler.Options) (scheduler.CrawlingReport, error) {
	return a.scheduler.RunCycle(ctx, opts)
}

// RunContinuous repeats cycles with interval between them until ctx ends.
func (a *App) RunContinuous(ctx context.Context, interval time.Duration, opts scheduler.Options) error {
	return a.scheduler.RunContinuous(ctx, interval, opts)
}

// QueueStatistics summarises the crawl queue.
func (a *App) QueueStatistics(ctx context.Context) (crawler.QueueStatistics, error) {
	return a.queue.Statistics(ctx)
}

// Serve runs the ops API and the maintenance jobs until ctx is cancelled or
// the process is signalled.
func (a *App) Serve(ctx context.Context) error {
	runner := maintenance.New(a.queue, maintenance.Config{
		LeaseSweep:     a.cfg.Maintenance.LeaseSweep,
		RetryPromotion: a.cfg.Maintenance.RetryPromotion,
		Stats:          a.cfg.Maintenance.Stats,
		Cycle:          a.cfg.Maintenance.Cycle,
		Lease:          a.cfg.Lease(),
		JobTimeout:     maintenance.DefaultJobTimeout,
	}, a.logger, maintenance.WithCycle(func(ctx context.Context) error {
		_, err := a.scheduler.RunCycle(ctx, a.CycleOptions())
		return err
	}))
	apiServer := api.NewServer(a.queue, a.store, a.reports, crawler.SystemClock{}, a.cfg, a.logger)
	return server.Run(ctx, server.Options{
		Port:            a.cfg.Server.Port,
		ShutdownTimeout: time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		Handler:         apiServer.Handler(),
		Components:      []server.Component{runner},
		Logger:          a.logger,
	})
}

// Close releases every client the app opened. It is safe on a partially built App.
func (a *App) Close() {
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
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
