package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/auth"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/queue"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// set at build time
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, sync, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("fern exited with an error")
		sync()
		os.Exit(1)
	}
}

func newLogger(level string) (ectologger.Logger, func(), error) {
	zapConfig := zap.NewProductionConfig()
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, nil, err
	}
	zapConfig.Level = atomic

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		OTLPEnabled: cfg.OTLPEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		Protocol:    cfg.OTLPProtocol,
		Insecure:    cfg.OTLPInsecure,
		Console:     cfg.TraceConsole,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush spans")
		}
	}()

	checker := health.NewChecker(version)
	deps := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	sqlDB, err := sqlx.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	db := database.NewDatabaseInstance(sqlDB, logger)

	deps.AddDependency(&startup.Func{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.MigratePostgres(sqlDB.DB, cfg.DatabaseName)
		},
		StopFunc: func(context.Context) error { return db.Close() },
	})
	checker.AddCheck("database", db.PingContext)

	var redisClient *fernredis.Client
	deps.AddDependency(&startup.Func{
		Name: "redis",
		StartFunc: func(context.Context) error {
			client, err := fernredis.NewClient(fernredis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			if err != nil {
				return err
			}
			redisClient = client
			return nil
		},
		StopFunc: func(context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})
	checker.AddCheck("redis", func(ctx context.Context) error {
		if redisClient == nil {
			return errors.New("not connected")
		}
		return redisClient.Ping(ctx)
	})

	// Connections start first. The consumers registered below are built from
	// redisClient, which only exists once this phase is done.
	if err := deps.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.Stop(stopCtx); err != nil {
			logger.WithError(err).Error("Failed to stop dependencies")
		}
	}()

	integrationRepo := repositories.NewIntegrationRepository(db, logger)
	userRepo := repositories.NewUserRepository(db, logger)
	trackerRepo := repositories.NewTrackerRepository(db, logger)
	notificationRepo := repositories.NewNotificationRepository(db, logger)
	retryRepo := repositories.NewRetryRepository(db, logger)
	organizationRepo := repositories.NewOrganizationRepository(db, logger)

	var (
		traces     execution.TraceStore = trackerRepo
		dispatcher                      = notifications.NewDispatcher(notificationRepo, nil, logger)
	)
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, cfg.KafkaTraceTopic), logger)
		traces = notifications.NewAuditedTraceStore(trackerRepo, producer, logger)
		dispatcher = notifications.NewDispatcher(notificationRepo, producer, logger)
		deps.AddDependency(&startup.Func{
			Name:     "kafka",
			StopFunc: func(context.Context) error { return producer.Close() },
		})
	}

	client := httpclient.NewClient(httpclient.Config{
		Timeout:         cfg.HTTPTimeout,
		MaxRedirects:    cfg.HTTPMaxRedirects,
		MaxResponseSize: cfg.HTTPMaxResponseBytes,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}, logger)
	executor := execution.NewStepExecutor(client, traces, logger)
	guard := auth.NewGuard(executor, integrationRepo, dispatcher, logger)
	orchestrator := execution.NewOrchestrator(executor, traces, userRepo, dispatcher, retryRepo, guard, execution.Config{
		BaseURL:    cfg.BaseURL,
		RetryDelay: cfg.RetryDelay,
	}, logger)
	reader := importer.NewReader(orchestrator, logger)
	syncer := importer.NewSyncer(reader, userRepo, organizationRepo, logger)
	exchanger := auth.NewExchanger(executor, traces, integrationRepo, cfg.BaseURL, logger)

	streams := fernredis.NewStreams(redisClient)
	dlq := fernredis.NewDeadLetterQueue(redisClient, cfg.RedisStreamsDLQ, logger)

	processorConfig := queue.DefaultProcessorConfig()
	processorConfig.Stream = cfg.RedisStreamsJobQueue
	processorConfig.ConsumerGroup = cfg.RedisStreamsConsumerGroup
	if cfg.RedisStreamsConsumerName != "" {
		processorConfig.ConsumerName = cfg.RedisStreamsConsumerName
	}
	processorConfig.WorkerCount = cfg.QueueWorkers
	processorConfig.MaxAttempts = cfg.QueueMaxAttempts
	processorConfig.ClaimInterval = cfg.QueueClaimInterval

	processor := queue.NewProcessor(streams, dlq, processorConfig, logger)
	processor.Handle(fernredis.JobTypeIntegrationRetry, queue.NewRetryHandler(integrationRepo, userRepo, orchestrator, logger))
	processor.Handle(fernredis.JobTypeIntegrationSync, queue.NewSyncHandler(integrationRepo, syncer, logger))
	deps.AddDependency(processor)

	if cfg.SchedulerEnabled {
		deps.AddDependency(scheduler.NewScheduler(
			scheduler.NewRetryRepository(db, logger),
			streams,
			fernredis.NewLocker(redisClient, ""),
			scheduler.Config{
				PollInterval: cfg.SchedulerPollInterval,
				LockTTL:      cfg.SchedulerLockTTL,
				BatchSize:    cfg.SchedulerBatchSize,
				JobStream:    cfg.RedisStreamsJobQueue,
			},
			logger,
		))
	}

	// Second phase: only the consumers start here, connections are already up.
	if err := deps.Start(ctx); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(
		echomw.Recover(),
		echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowOrigins}),
		otelecho.Middleware(cfg.AppName),
		middleware.Context(),
		middleware.Logger(logger),
	)

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		verify, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return err
		}
		api.Use(middleware.Authentication(logger, verify, cfg.AuthTenantClaim))
	} else {
		logger.Warn("Authentication is disabled; trusting tenant headers")
		api.Use(middleware.HeaderAuth())
	}

	handlers.NewIntegrationHandler(integrationRepo).RegisterRoutes(api)
	handlers.NewExecutionHandler(integrationRepo, userRepo, orchestrator, logger).RegisterRoutes(api)
	handlers.NewImportHandler(integrationRepo, reader, syncer, streams, cfg.RedisStreamsJobQueue).RegisterRoutes(api)
	handlers.NewOAuthHandler(integrationRepo, exchanger).RegisterRoutes(api)
	handlers.NewTrackerHandler(trackerRepo).RegisterRoutes(api)
	handlers.NewNotificationHandler(notificationRepo).RegisterRoutes(api)
	handlers.NewDLQHandler(dlq, streams, cfg.RedisStreamsJobQueue, logger).RegisterRoutes(api)

	e.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:    time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("fern %s listening on :%d", version, cfg.Port)
		if err := e.StartServer(e.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)
}
