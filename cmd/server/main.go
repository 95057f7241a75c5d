package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	statsapp "github.com/erp/backoffice/internal/application/statistics"
	"github.com/erp/backoffice/internal/domain/sales"
	"github.com/erp/backoffice/internal/infrastructure/cache"
	"github.com/erp/backoffice/internal/infrastructure/config"
	"github.com/erp/backoffice/internal/infrastructure/event"
	"github.com/erp/backoffice/internal/infrastructure/logger"
	"github.com/erp/backoffice/internal/infrastructure/messaging"
	"github.com/erp/backoffice/internal/infrastructure/persistence"
	"github.com/erp/backoffice/internal/infrastructure/scheduler"
	"github.com/erp/backoffice/internal/infrastructure/storage"
	"github.com/erp/backoffice/internal/infrastructure/telemetry"
	"github.com/erp/backoffice/internal/interfaces/http/handler"
	"github.com/erp/backoffice/internal/interfaces/http/middleware"
	"github.com/erp/backoffice/internal/interfaces/http/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	serviceVersion  = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	loc, err := cfg.Statistics.Location()
	if err != nil {
		log.Fatal("Invalid statistics timezone", zap.String("timezone", cfg.Statistics.Timezone), zap.Error(err))
	}

	log.Info("Starting backoffice statistics service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("timezone", loc.String()),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log = lp.Bridge(log, zapcore.InfoLevel)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		ProfileMutex:    true,
	}, log)
	if err != nil {
		log.Warn("Profiler disabled", zap.Error(err))
	}
	if profiler != nil && profiler.IsEnabled() && tp.IsEnabled() {
		if err := tp.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles disabled", zap.Error(err))
		}
	}

	statsMetrics, err := telemetry.NewStatisticsMetrics(mp.Meter("backoffice/statistics"))
	if err != nil {
		log.Fatal("Failed to create statistics metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.App.Env == "development",
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// Cache tiers
	tiered := newTieredCache(cfg.Cache, redisClient, statsMetrics, log)
	if err := tiered.StartInvalidationSubscription(ctx); err != nil {
		log.Warn("Cache invalidation subscription failed, L1 entries may go stale", zap.Error(err))
	}

	idemOpts := []cache.IdempotencyStoreFactoryOption{
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
		cache.WithIdempotencyPrefix(cfg.Cache.KeyPrefix + "dedup:"),
	}
	if redisClient != nil {
		idemOpts = append(idemOpts, cache.WithRedisClient(redisClient))
	}
	dedupStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis, idemOpts...).CreateStore()
	if err != nil {
		log.Fatal("Failed to create dedup store", zap.Error(err))
	}

	// Repositories
	aggregateRepo := persistence.NewGormAggregateRepository(db.DB)
	archiveRepo := persistence.NewGormArchiveRepository(db.DB)
	jobRecordRepo := persistence.NewGormJobRecordRepository(db.DB)
	orderSource := persistence.NewGormOrderSource(db.DB)
	branches := persistence.NewGormBranchDirectory(db.DB)
	supply := persistence.NewGormSupplyRequestCounter(db.DB)

	// Application services
	aggregator := statsapp.NewAggregator(aggregateRepo,
		statsapp.WithAggregatorCache(tiered),
		statsapp.WithDedupStore(dedupStore, cfg.Statistics.DedupWindow),
		statsapp.WithAggregatorMetrics(statsMetrics),
		statsapp.WithAggregatorLocation(loc),
		statsapp.WithAggregatorLogger(log),
	)
	reconciler := statsapp.NewReconciler(aggregateRepo, orderSource,
		statsapp.WithReconcilerCache(tiered),
		statsapp.WithReconcilerMetrics(statsMetrics),
		statsapp.WithReconcilerLocation(loc),
		statsapp.WithReconcilerLogger(log),
	)

	archiverOpts := []statsapp.ArchiverOption{
		statsapp.WithArchiverCache(tiered),
		statsapp.WithArchiverMetrics(statsMetrics),
		statsapp.WithLedgerRetention(cfg.Statistics.DedupWindow),
		statsapp.WithArchiverLogger(log),
	}
	if cfg.Storage.Bucket != "" {
		cold, err := storage.NewColdStorage(ctx, cfg.Storage, log)
		if err != nil {
			log.Fatal("Failed to create cold storage client", zap.Error(err))
		}
		if err := cold.EnsureBucket(ctx); err != nil {
			log.Warn("Cold storage bucket check failed", zap.String("bucket", cold.Bucket()), zap.Error(err))
		}
		archiverOpts = append(archiverOpts, statsapp.WithColdStorage(cold))
	}
	archiver := statsapp.NewArchiver(archiveRepo, sales.ArchivePolicy{
		Enabled:       cfg.Archive.Enabled,
		RetentionDays: cfg.Archive.RetentionDays,
		BatchSize:     cfg.Archive.BatchSize,
		Mode:          sales.ArchiveMode(cfg.Archive.Mode),
	}, archiverOpts...)

	queries := statsapp.NewQueryService(aggregateRepo, tiered, loc, log)
	dashboard := statsapp.NewDashboard(aggregateRepo, branches, supply,
		statsapp.WithDashboardCache(tiered),
		statsapp.WithDashboardLocation(loc),
		statsapp.WithDashboardLogger(log),
	)
	cacheAdmin := statsapp.NewCacheAdmin(tiered, log)

	// Jobs
	var guard scheduler.RunGuard = scheduler.NewLocalRunGuard()
	if cfg.Scheduler.DistributedLock && redisClient != nil {
		guard = scheduler.NewRedisRunGuard(redisClient, cfg.Scheduler.LockTTL,
			scheduler.WithLockPrefix(cfg.Cache.KeyPrefix+"lock:"),
			scheduler.WithGuardLogger(log),
		)
	}
	executor := statsapp.NewJobExecutor(reconciler, archiver, tiered, guard, statsMetrics, loc, log)
	jobs := statsapp.NewJobRegistry(executor, jobRecordRepo, cfg.Statistics.JobRetention, log)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dbCollector, err := db.Collector(cfg.Database.DBName); err == nil {
		promRegistry.MustRegister(dbCollector)
	} else {
		log.Warn("Database pool metrics unavailable", zap.Error(err))
	}

	var cronScheduler *scheduler.StatsCronScheduler
	if cfg.Scheduler.Enabled {
		cronScheduler, err = scheduler.NewStatsCronScheduler(scheduler.StatsCronSchedulerConfig{
			Enabled:             true,
			NightlySchedule:     cfg.Scheduler.NightlyCronSchedule,
			MonthlySchedule:     cfg.Scheduler.MonthlyCronSchedule,
			ReconcileWindowDays: cfg.Statistics.ReconcileWindowDays,
			Location:            loc,
			Pool: scheduler.SchedulerConfig{
				Enabled:           true,
				MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
				QueueSize:         cfg.Scheduler.MaxConcurrentJobs * 4,
				JobTimeout:        cfg.Scheduler.JobTimeout,
				RetryAttempts:     cfg.Scheduler.RetryAttempts,
				RetryDelay:        cfg.Scheduler.RetryDelay,
			},
		}, executor, jobRecordRepo, log, scheduler.WithJobMetrics(scheduler.NewJobMetrics(promRegistry)))
		if err != nil {
			log.Fatal("Invalid scheduler configuration", zap.Error(err))
		}
		if err := cronScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		log.Info("Statistics scheduler started",
			zap.String("nightly", cfg.Scheduler.NightlyCronSchedule),
			zap.String("monthly", cfg.Scheduler.MonthlyCronSchedule),
		)
	}

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(statsapp.NewOrderCompletedHandler(aggregator, log))
	eventBus.Subscribe(event.NewDedupHandler(
		statsapp.NewSalesDataChangedHandler(reconciler, tiered, log),
		dedupStore,
		cfg.Statistics.DedupWindow,
		log,
	))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Kafka consumers
	var consumers []consumer
	if cfg.Kafka.Enabled {
		reader, err := messaging.NewKafkaReader(cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to create order consumer", zap.Error(err))
		}
		consumers = append(consumers, messaging.NewOrderCompletedConsumer(reader, aggregator,
			messaging.WithRetryBackoff(cfg.Kafka.RetryBackoff),
			messaging.WithConsumerLogger(log),
		))

		if cfg.Kafka.ChangeTopic != "" {
			changeCfg := cfg.Kafka
			changeCfg.Topic = cfg.Kafka.ChangeTopic
			changeReader, err := messaging.NewKafkaReader(changeCfg)
			if err != nil {
				log.Fatal("Failed to create sales change consumer", zap.Error(err))
			}
			serializer := event.NewEventSerializer()
			event.RegisterSalesEvents(serializer)
			consumers = append(consumers, messaging.NewSalesChangeConsumer(changeReader, serializer, eventBus,
				messaging.WithChangeRetryBackoff(cfg.Kafka.RetryBackoff),
				messaging.WithChangeLogger(log),
			))
		}
	}
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		runConsumers(ctx, consumers, log)
	}()

	// HTTP
	health := handler.NewHealthHandler().AddCheck("database", db.Ping)
	if redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	adminHandler := handler.NewAdminHandler(cacheAdmin, jobs, archiver)
	if cronScheduler != nil {
		adminHandler.SetScheduler(cronScheduler)
	}

	var gatherer prometheus.Gatherer
	if cfg.Telemetry.PrometheusEnabled {
		gatherer = promRegistry
	}
	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tp.IsEnabled(),
			SkipPaths:   []string{"/health", "/metrics"},
		},
		Metrics: middleware.HTTPMetricsConfig{
			MeterProvider: mp,
			ServiceName:   cfg.Telemetry.ServiceName,
			Enabled:       mp.IsEnabled(),
		},
		Profiling: middleware.ProfilingConfig{
			Enabled: profiler != nil && profiler.IsEnabled(),
		},
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		HSTSMaxAge:     cfg.HTTP.HSTSMaxAge,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Gatherer:       gatherer,
	}, router.Handlers{
		Health:       health,
		Statistics:   handler.NewStatisticsHandler(queries),
		Dashboard:    handler.NewDashboardHandler(dashboard),
		Admin:        adminHandler,
		AdminLimiter: newAdminLimiter(cfg, redisClient),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// consumers stop fetching before the bus they publish to
	stop()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("Consumers did not stop in time")
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Warn("Error closing consumer", zap.Error(err))
		}
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Error stopping event bus", zap.Error(err))
	}
	if cronScheduler != nil {
		if err := cronScheduler.Stop(shutdownCtx); err != nil {
			log.Warn("Error stopping scheduler", zap.Error(err))
		}
	}
	if err := jobs.Close(shutdownCtx); err != nil {
		log.Warn("Error waiting for manual jobs", zap.Error(err))
	}

	if err := tiered.Close(); err != nil {
		log.Warn("Error closing cache", zap.Error(err))
	}
	if closer, ok := dedupStore.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("Error closing redis", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Warn("Error stopping profiler", zap.Error(err))
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := lp.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newTieredCache builds L1 and, with a redis client, L2 and the invalidation broadcaster
func newTieredCache(cfg config.CacheConfig, client *redis.Client, observer cache.Observer, log *zap.Logger) *cache.TieredCache {
	opts := []cache.TieredCacheOption{
		cache.WithTTLs(cache.NewTTLTable(cfg.TTLOverrides)),
		cache.WithRealtimeLimits(cfg.RealtimeMaxKeys, cfg.RealtimeKeepKeys),
		cache.WithObserver(observer),
		cache.WithTieredLogger(log),
	}
	if cfg.L1Enabled {
		opts = append(opts, cache.WithL1(cache.NewMemoryStore(
			cache.WithMaxEntries(cfg.L1MaxEntries),
			cache.WithMemoryLogger(log),
		)))
	}
	if cfg.L2Enabled && client != nil {
		opts = append(opts,
			cache.WithL2(cache.NewRedisStore(client,
				cache.WithKeyPrefix(cfg.KeyPrefix),
				cache.WithRedisLogger(log),
			)),
			cache.WithBroadcaster(cache.NewInvalidator(client,
				cache.WithInvalidatorChannel(cfg.PubSubChannel),
				cache.WithInvalidatorLogger(log),
			)),
		)
	}
	return cache.NewTieredCache(opts...)
}

// newAdminLimiter returns nil when admin rate limiting is off
func newAdminLimiter(cfg *config.Config, client *redis.Client) middleware.RateLimiter {
	if cfg.HTTP.AdminRateLimit <= 0 {
		return nil
	}
	if cfg.HTTP.RateLimitStore == "redis" && client != nil {
		return middleware.NewRedisRateLimiter(client, cfg.Cache.KeyPrefix+"ratelimit:", cfg.HTTP.AdminRateLimit)
	}
	return middleware.NewLocalRateLimiter(cfg.HTTP.AdminRateLimit)
}

type consumer interface {
	Run(ctx context.Context) error
	Close() error
}

// runConsumers runs every consumer until ctx is cancelled
func runConsumers(ctx context.Context, consumers []consumer, log *zap.Logger) {
	done := make(chan struct{}, len(consumers))
	for _, c := range consumers {
		go func() {
			defer func() { done <- struct{}{} }()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Consumer stopped", zap.Error(err))
			}
		}()
	}
	for range consumers {
		<-done
	}
}
