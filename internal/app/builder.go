package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-git/go-billy/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/api"
	"github.com/stacklok/cargo-registry-server/internal/app/storage"
	"github.com/stacklok/cargo-registry-server/internal/cache"
	"github.com/stacklok/cargo-registry-server/internal/config"
	"github.com/stacklok/cargo-registry-server/internal/git"
	"github.com/stacklok/cargo-registry-server/internal/publish"
	"github.com/stacklok/cargo-registry-server/internal/service"
	archive "github.com/stacklok/cargo-registry-server/internal/storage"
	"github.com/stacklok/cargo-registry-server/internal/store"
	pkgsync "github.com/stacklok/cargo-registry-server/internal/sync"
	"github.com/stacklok/cargo-registry-server/internal/sync/coordinator"
	"github.com/stacklok/cargo-registry-server/internal/telemetry"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second

	// tracerName names the tracer handed to the store, ingestor and service
	tracerName = "github.com/stacklok/cargo-registry-server"
)

// RegistryAppOptions is a function that configures the registry app builder
type RegistryAppOptions func(*registryAppConfig) error

// registryAppConfig collects the inputs of NewRegistryApp. It supports
// dependency injection for testing while providing sensible defaults for production.
type registryAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	syncManager    pkgsync.Manager
	archiveFS      billy.Filesystem

	// HTTP server options
	address         string
	middlewares     []func(http.Handler) http.Handler
	requestTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	registerer     prometheus.Registerer
	metricsPath    string
	metricsHandler http.Handler
}

func baseConfig(opts ...RegistryAppOptions) (*registryAppConfig, error) {
	cfg := &registryAppConfig{
		requestTimeout:  defaultRequestTimeout,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}

	return cfg, nil
}

// NewRegistryApp wires every component described by the configuration
func NewRegistryApp(
	ctx context.Context,
	opts ...RegistryAppOptions,
) (*RegistryApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	var tracer trace.Tracer
	if cfg.tracerProvider != nil {
		tracer = cfg.tracerProvider.Tracer(tracerName)
	}

	// Create storage factory (single decision point for Postgres vs memory)
	if cfg.storageFactory == nil {
		var factoryOpts []storage.DatabaseFactoryOption
		if tracer != nil {
			factoryOpts = append(factoryOpts, storage.WithTracer(tracer))
		}
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config, factoryOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanups []func()
	cleanups = append(cleanups, cfg.storageFactory.Cleanup)
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			runCleanups(cleanups)
		}
	}()

	metadata, err := cfg.storageFactory.CreateMetadataStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	downloadCache, err := buildDownloadCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build download cache: %w", err)
	}
	if downloadCache != nil {
		cleanups = append(cleanups, func() {
			if err := downloadCache.Close(); err != nil {
				slog.Warn("Failed to close download cache", "error", err)
			}
		})
	}

	syncCoordinator, err := buildSyncComponents(ctx, cfg, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	registryService, err := buildServiceComponents(cfg, metadata, syncCoordinator, downloadCache, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build service components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, registryService)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &RegistryApp{
		config: cfg.config,
		components: &AppComponents{
			SyncCoordinator: syncCoordinator,
			RegistryService: registryService,
			MetadataStore:   metadata,
			DownloadCache:   downloadCache,
		},
		httpServer:      httpServer,
		shutdownTimeout: cfg.shutdownTimeout,
		ctx:             appCtx,
		cancelFunc: func() {
			cancel()
			runCleanups(cleanups)
		},
	}, nil
}

func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding server.address
func WithAddress(addr string) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithShutdownTimeout bounds graceful HTTP shutdown
func WithShutdownTimeout(timeout time.Duration) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = timeout
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithSyncManager allows injecting a custom sync manager (for testing).
// No index repository is opened when it is set.
func WithSyncManager(sm pkgsync.Manager) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.syncManager = sm
		return nil
	}
}

// WithArchiveFilesystem stores archives on fs instead of storage.path (for testing)
func WithArchiveFilesystem(fs billy.Filesystem) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.archiveFS = fs
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and registry metrics
func WithMeterProvider(mp metric.MeterProvider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and component spans
func WithTracerProvider(tp trace.TracerProvider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithPrometheus mounts handler at path and registers cache collectors with reg
func WithPrometheus(reg prometheus.Registerer, path string, handler http.Handler) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if handler != nil && !strings.HasPrefix(path, "/") {
			return fmt.Errorf("metrics path must start with '/': %q", path)
		}
		cfg.registerer = reg
		cfg.metricsPath = path
		cfg.metricsHandler = handler
		return nil
	}
}

// buildDownloadCache creates the download URL cache, or nil when none is configured
func buildDownloadCache(ctx context.Context, b *registryAppConfig) (*cache.DownloadCache, error) {
	cacheCfg := b.config.Cache
	if cacheCfg == nil {
		return nil, nil
	}

	var backend cache.Store
	switch cacheCfg.GetBackend() {
	case config.CacheBackendRedis:
		password, err := cacheCfg.Redis.GetPassword()
		if err != nil {
			return nil, err
		}
		backend, err = cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cacheCfg.Redis.Address,
			Password: password,
			DB:       cacheCfg.Redis.DB,
			PoolSize: cacheCfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
	default:
		backend = cache.NewMemoryStore()
	}

	downloadCache := cache.NewDownloadCache(backend, cacheCfg.GetTTL())
	if b.registerer != nil {
		if err := registerCacheCollectors(b.registerer, downloadCache); err != nil {
			_ = downloadCache.Close()
			return nil, err
		}
	}

	slog.Info("Download cache enabled", "backend", cacheCfg.GetBackend(), "ttl", cacheCfg.GetTTL())
	return downloadCache, nil
}

func registerCacheCollectors(reg prometheus.Registerer, c *cache.DownloadCache) error {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cargo_registry_download_cache_hits_total",
		Help: "Download URL lookups answered from the cache",
	}, func() float64 {
		h, _ := c.Stats()
		return float64(h)
	})
	misses := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "cargo_registry_download_cache_misses_total",
		Help: "Download URL lookups that went to the metadata store",
	}, func() float64 {
		_, m := c.Stats()
		return float64(m)
	})
	for _, collector := range []prometheus.Collector{hits, misses} {
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("failed to register cache metrics: %w", err)
		}
	}
	return nil
}

// buildGitConfig translates the index section into the repository configuration
func buildGitConfig(cfg *config.IndexConfig) (git.Config, error) {
	gitCfg := git.Config{
		Path:           cfg.Path,
		OriginURL:      cfg.Origin,
		Branch:         cfg.Branch,
		AuthorName:     cfg.AuthorName,
		AuthorEmail:    cfg.AuthorEmail,
		NetworkTimeout: cfg.GetFetchTimeout(),
		MaxAttempts:    cfg.MaxAttempts,
	}
	if cfg.Auth != nil {
		password, err := cfg.Auth.GetPassword()
		if err != nil {
			return git.Config{}, fmt.Errorf("failed to read index credentials: %w", err)
		}
		gitCfg.Auth = &git.AuthConfig{Username: cfg.Auth.Username, Password: password}
	}
	return gitCfg, nil
}

// buildSyncComponents builds the index repository, sync manager and coordinator
func buildSyncComponents(
	ctx context.Context,
	b *registryAppConfig,
	metadata store.MetadataStore,
) (coordinator.Coordinator, error) {
	slog.Info("Initializing sync components")

	var coordOpts []coordinator.Option

	if b.syncManager == nil {
		gitCfg, err := buildGitConfig(&b.config.Index)
		if err != nil {
			return nil, err
		}
		repo, err := git.New(gitCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create index repository: %w", err)
		}

		managerOpts := []pkgsync.Option{pkgsync.WithPush(b.config.Index.Push)}
		if b.tracerProvider != nil {
			managerOpts = append(managerOpts, pkgsync.WithTracer(b.tracerProvider.Tracer(tracerName)))
		}
		if b.meterProvider != nil {
			indexMetrics, err := telemetry.NewIndexMetrics(b.meterProvider)
			if err != nil {
				return nil, fmt.Errorf("failed to create index metrics: %w", err)
			}
			managerOpts = append(managerOpts, pkgsync.WithMetrics(indexMetrics))
			slog.Info("Index metrics enabled")
		}

		b.syncManager = pkgsync.NewManager(repo, metadata, managerOpts...)
		coordOpts = append(coordOpts, coordinator.WithLocker(repo))
		slog.Info("Index repository configured",
			"path", gitCfg.Path,
			"origin", gitCfg.OriginURL,
			"push", b.config.Index.Push,
		)
	}

	persistence, err := b.storageFactory.CreateStatusPersistence(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create status persistence: %w", err)
	}

	coordOpts = append(coordOpts,
		coordinator.WithPollInterval(b.config.Worker.GetPollInterval()),
		coordinator.WithStatusPersistence(persistence),
	)

	syncCoordinator := coordinator.New(b.syncManager, coordOpts...)
	slog.Info("Sync components initialized successfully")

	return syncCoordinator, nil
}

// buildServiceComponents builds the ingestor and the registry service
func buildServiceComponents(
	b *registryAppConfig,
	metadata store.MetadataStore,
	worker coordinator.Coordinator,
	downloadCache *cache.DownloadCache,
	tracer trace.Tracer,
) (service.RegistryService, error) {
	slog.Info("Initializing service components")

	archives, err := buildArchiveStore(b)
	if err != nil {
		return nil, err
	}

	ingestOpts := []publish.Option{
		publish.WithLimits(publish.Limits{
			MaxMetadataSize: publish.DefaultMaxMetadataSize,
			MaxArchiveSize:  b.config.Server.GetMaxUploadSize(),
		}),
	}
	svcOpts := []service.Option{service.WithIndexWorker(worker)}

	if tracer != nil {
		ingestOpts = append(ingestOpts, publish.WithTracer(tracer))
		svcOpts = append(svcOpts, service.WithTracer(tracer))
	}
	if downloadCache != nil {
		svcOpts = append(svcOpts, service.WithDownloadCache(downloadCache))
	}
	if b.meterProvider != nil {
		publishMetrics, err := telemetry.NewPublishMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create publish metrics: %w", err)
		}
		svcOpts = append(svcOpts, service.WithPublishMetrics(publishMetrics))
	}

	ingestor, err := publish.NewIngestor(metadata, archives, b.config.GetDownloadURL(), ingestOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish ingestor: %w", err)
	}

	svc, err := service.New(metadata, ingestor, archives, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry service: %w", err)
	}

	slog.Info("Service components initialized successfully",
		"download_url", b.config.GetDownloadURL(),
		"max_upload_size", b.config.Server.GetMaxUploadSize(),
	)
	return svc, nil
}

func buildArchiveStore(b *registryAppConfig) (*archive.ArchiveStore, error) {
	if b.archiveFS != nil {
		return archive.NewArchiveStore(b.archiveFS), nil
	}
	archives, err := archive.NewLocalArchiveStore(b.config.Storage.GetPath())
	if err != nil {
		return nil, fmt.Errorf("failed to create archive store: %w", err)
	}
	slog.Info("Archive store configured", "path", b.config.Storage.GetPath())
	return archives, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *registryAppConfig,
	svc service.RegistryService,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Telemetry middlewares go first so they observe every request
	var telemetryMiddlewares []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		telemetryMiddlewares = append(telemetryMiddlewares, telemetry.TracingMiddleware(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		telemetryMiddlewares = append(telemetryMiddlewares, metricsMiddleware)
		slog.Info("HTTP metrics middleware enabled")
	}
	b.middlewares = append(telemetryMiddlewares, b.middlewares...)

	router := api.NewServer(svc, api.WithMiddlewares(b.middlewares...))

	if b.metricsHandler != nil {
		router.Handle(b.metricsPath, b.metricsHandler)
		slog.Info("Prometheus metrics endpoint enabled", "path", b.metricsPath)
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
