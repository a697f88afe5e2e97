// Package server builds the dashboard's dependencies from configuration and
// runs the HTTP server and change sources until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/api"
	"github.com/JakeFAU/image-crawl-dashboard/internal/backend"
	"github.com/JakeFAU/image-crawl-dashboard/internal/bundle"
	rediscache "github.com/JakeFAU/image-crawl-dashboard/internal/cache/redis"
	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/config"
	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
	collyfetcher "github.com/JakeFAU/image-crawl-dashboard/internal/fetcher/colly"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
	"github.com/JakeFAU/image-crawl-dashboard/internal/policy/ratelimit"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
	pubsubsource "github.com/JakeFAU/image-crawl-dashboard/internal/realtime/pubsub"
	gcsstorage "github.com/JakeFAU/image-crawl-dashboard/internal/storage/gcs"
	localstorage "github.com/JakeFAU/image-crawl-dashboard/internal/storage/local"
	memorystore "github.com/JakeFAU/image-crawl-dashboard/internal/storage/memory"
	pgstore "github.com/JakeFAU/image-crawl-dashboard/internal/storage/postgres"
	s3store "github.com/JakeFAU/image-crawl-dashboard/internal/storage/s3"
	"github.com/JakeFAU/image-crawl-dashboard/internal/views"
)

const shutdownTimeout = 10 * time.Second

// runner is a long-lived change source started by Run.
type runner interface {
	Run(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	hub       *realtime.Hub
	repo      catalog.Repository
	apiServer *api.Server
	sources   map[string]runner

	pgStore      *pgstore.Store
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	redisClient  *redis.Client
}

// Build creates the application's dependencies. Anything it opened is
// released again when it fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, sources: make(map[string]runner)}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			if app.hub != nil {
				_ = app.hub.Close(context.Background())
			}
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("download_mode", cfg.Download.Mode),
	)
	app.hub = realtime.NewHub(realtime.Config{
		BufferSize:       cfg.Realtime.BufferSize,
		SubscriberBuffer: cfg.Realtime.SubscriberBuffer,
		Observer: func(evt realtime.ChangeEvent) {
			metrics.ObserveChangeEvent(evt.Table, string(evt.Op))
		},
		Logger: logger.Named("realtime"),
	})

	if err = app.setupRepository(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPubSub(ctx); err != nil {
		return nil, err
	}
	images, err := app.setupFetcher(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := views.NewService(app.repo, logger)
	if err != nil {
		return nil, fmt.Errorf("views init failed: %w", err)
	}
	client, err := backend.New(backend.Config{BaseURL: cfg.Backend.BaseURL, Timeout: cfg.BackendTimeout()})
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}
	deps := api.Deps{
		Repo:         app.repo,
		Views:        svc,
		Changes:      app.hub,
		Crawler:      client,
		DownloadMode: cfg.Download.Mode,
		Logger:       logger,
	}
	if cfg.Download.Mode == config.DownloadProxy {
		deps.BundleProxy = client
		app.logger.Info("image bundles proxied to backend", zap.String("base_url", cfg.Backend.BaseURL))
	} else {
		deps.Bundles, err = bundle.New(app.repo, images, bundle.Config{
			MaxParallel:  cfg.Download.MaxParallel,
			FetchTimeout: cfg.FetchTimeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bundler init failed: %w", err)
		}
	}
	app.apiServer, err = api.NewServer(deps)
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Repository returns the catalog repository in use.
func (a *App) Repository() catalog.Repository {
	return a.repo
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory catalog; data is not shared with the backend")
		a.repo = memorystore.NewStore(a.hub)
		return nil
	case config.DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}

	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		URL:      a.cfg.Database.URL,
		Key:      a.cfg.Database.Key,
		MaxConns: int32(a.cfg.Database.MaxConns), //nolint:gosec // bounded by config validation
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pgStore, err = pgstore.NewStore(pool)
	if err != nil {
		pool.Close()
		return fmt.Errorf("database init failed: %w", err)
	}
	a.repo = a.pgStore
	if a.cfg.Database.AutoMigrate {
		if err := a.pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database schema applied")
	}
	listener, err := pgstore.NewListener(pool, pgstore.NotifyChannel, a.hub, a.logger.Named("pg_listener"))
	if err != nil {
		return fmt.Errorf("change listener init failed: %w", err)
	}
	a.sources["postgres"] = listener
	a.logger.Info("postgres catalog initialized", zap.Int("max_conns", a.cfg.Database.MaxConns))
	return nil
}

func (a *App) setupPubSub(ctx context.Context) error {
	if a.cfg.Realtime.PubSubProject == "" {
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.Realtime.PubSubProject)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	source, err := pubsubsource.New(
		a.pubsubClient.Subscription(a.cfg.Realtime.PubSubSubscription),
		a.hub,
		a.logger.Named("pubsub_source"),
	)
	if err != nil {
		return fmt.Errorf("pubsub source init failed: %w", err)
	}
	a.sources["pubsub"] = source
	a.logger.Info("Pub/Sub change source initialized",
		zap.String("project", a.cfg.Realtime.PubSubProject),
		zap.String("subscription", a.cfg.Realtime.PubSubSubscription),
	)
	return nil
}

func (a *App) setupFetcher(ctx context.Context) (fetcher.Fetcher, error) {
	dl := a.cfg.Download
	router := fetcher.NewRouter()
	router.Handle(collyfetcher.New(collyfetcher.Config{
		UserAgent:   dl.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MaxBodySize: int(dl.MaxImageBytes),
	}), "http", "https")

	if dir := a.cfg.Storage.LocalDir; dir != "" {
		local, err := localstorage.New(localstorage.Config{BaseDir: dir, MaxBytes: dl.MaxImageBytes})
		if err != nil {
			return nil, fmt.Errorf("local image source init failed: %w", err)
		}
		router.Handle(local, "file")
	}
	if a.cfg.Storage.GCSEnabled {
		var err error
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		gcs, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{MaxBytes: dl.MaxImageBytes})
		if err != nil {
			return nil, fmt.Errorf("gcs image source init failed: %w", err)
		}
		router.Handle(gcs, "gs")
	}
	if a.cfg.Storage.S3Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config init failed: %w", err)
		}
		s3Reader, err := s3store.New(s3.NewFromConfig(awsCfg), s3store.Config{MaxBytes: dl.MaxImageBytes})
		if err != nil {
			return nil, fmt.Errorf("s3 image source init failed: %w", err)
		}
		router.Handle(s3Reader, "s3")
	}
	a.logger.Info("image sources configured", zap.Strings("schemes", router.Schemes()))

	limited, err := ratelimit.New(router, ratelimit.Config{PerHostRPS: dl.PerHostRPS, PerHostBurst: dl.PerHostBurst})
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}
	if a.cfg.Cache.RedisAddr == "" {
		return limited, nil
	}
	a.redisClient = redis.NewClient(&redis.Options{Addr: a.cfg.Cache.RedisAddr})
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unreachable; cache lookups will be bypassed until it recovers",
			zap.String("addr", a.cfg.Cache.RedisAddr), zap.Error(err))
	}
	cached, err := rediscache.New(a.redisClient, limited, a.cfg.CacheTTL(), a.logger.Named("image_cache"))
	if err != nil {
		return nil, fmt.Errorf("image cache init failed: %w", err)
	}
	return cached, nil
}

// Run starts the change sources and the HTTP server and blocks until ctx is
// canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	for name, src := range a.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("change source started", zap.String("source", name))
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("change source stopped", zap.String("source", name), zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client and closes the change hub.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("realtime hub close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redisClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}
