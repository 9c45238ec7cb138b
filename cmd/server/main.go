package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/orderflow/backend/api"
	eventapp "github.com/orderflow/backend/internal/application/event"
	"github.com/orderflow/backend/internal/application/fulfillment"
	orderapp "github.com/orderflow/backend/internal/application/order"
	"github.com/orderflow/backend/internal/domain/shared"
	"github.com/orderflow/backend/internal/infrastructure/cache"
	"github.com/orderflow/backend/internal/infrastructure/config"
	"github.com/orderflow/backend/internal/infrastructure/event"
	"github.com/orderflow/backend/internal/infrastructure/logger"
	"github.com/orderflow/backend/internal/infrastructure/migration"
	"github.com/orderflow/backend/internal/infrastructure/persistence"
	"github.com/orderflow/backend/internal/infrastructure/persistence/models"
	"github.com/orderflow/backend/internal/infrastructure/scheduler"
	"github.com/orderflow/backend/internal/infrastructure/telemetry"
	"github.com/orderflow/backend/internal/interfaces/http/handler"
	"github.com/orderflow/backend/internal/interfaces/http/middleware"
	"github.com/orderflow/backend/internal/interfaces/http/router"
	"github.com/orderflow/backend/migrations"
)

//	@title			Orderflow API
//	@version		1.0
//	@description	Order intake, fulfillment saga and transactional outbox administration

//	@contact.name	API Support
//	@contact.url	https://github.com/orderflow/backend

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

const version = "1.0.0"

// messageBus is a shared.Bus with a lifecycle
type messageBus interface {
	shared.Bus
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()
	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}

	// OTLP log export tees the zap core, so every later logger carries it
	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
		Level:             cfg.Telemetry.LogsLevel,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	log := logProvider.Bridge(baseLog)
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Orderflow",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("bus", cfg.Bus.Driver),
	)

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingServerAddress,
		ApplicationName: serviceName,
		Profiles:        telemetry.DefaultProfiles,
		Tags:            map[string]string{"env": cfg.App.Env},
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if cfg.Telemetry.ProfilingEnabled && cfg.Telemetry.SpanProfiles {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database, log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	// Create GORM logger backed by zap
	gormOpts := []logger.GormLoggerOption{logger.WithQuietTables(models.OutboxMessageModel{}.TableName())}
	if cfg.Telemetry.SlowQueryThreshold > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.Telemetry.SlowQueryThreshold))
	}
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	dbTelemetry := telemetry.DefaultDBConfig()
	dbTelemetry.Tracing = cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing
	dbTelemetry.Metrics = meterProvider.IsEnabled()
	dbTelemetry.DBName = cfg.Database.DBName
	if cfg.Telemetry.SlowQueryThreshold > 0 {
		dbTelemetry.SlowQueryThreshold = cfg.Telemetry.SlowQueryThreshold
	}
	if err := telemetry.InstrumentTracing(db.DB, dbTelemetry, log); err != nil {
		log.Warn("Failed to instrument database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.InstrumentMetrics(ctx, db.DB, meterProvider, dbTelemetry, log)
	if err != nil {
		log.Warn("Failed to instrument database metrics", zap.Error(err))
	}

	// Initialize repositories
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	reservationRepo := persistence.NewGormReservationRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	outboxRepo := persistence.NewGormOutboxRepository(db.DB)

	clock := shared.SystemClock{}

	fulfillmentMetrics, err := telemetry.NewFulfillmentMetrics(meterProvider.Meter("orderflow"), outboxRepo)
	if err != nil {
		log.Fatal("Failed to create fulfillment metrics", zap.Error(err))
	}

	bus, err := newBus(cfg.Bus, log)
	if err != nil {
		log.Fatal("Failed to create message bus", zap.Error(err))
	}

	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Application services
	intakeService := orderapp.NewIntakeService(orderRepo, clock, cfg.Order.TaxRate, log)
	intakeService.SetMetrics(fulfillmentMetrics)
	queryService := orderapp.NewQueryService(orderRepo)
	adminService := orderapp.NewAdminService(orderRepo, reservationRepo, paymentRepo, outboxRepo, db, clock, log)
	outboxService := eventapp.NewOutboxService(outboxRepo, clock, cfg.Relay.MaxAttempts, log)

	// Step consumers answer the saga's requests. They can run in a separate
	// process when the bus is RabbitMQ.
	if cfg.Providers.ConsumersEnabled {
		providers := fulfillment.NewSimulatedProviders(cfg.Providers, nil, clock, log)
		fulfillment.NewConsumers(reservationRepo, paymentRepo, providers, providers, providers, clock, log).Register(bus)
		log.Info("Step consumers registered")
	}

	var sagaScheduler *scheduler.Scheduler
	var sweeper *fulfillment.Sweeper
	if cfg.Saga.Enabled {
		orchestrator := fulfillment.NewOrchestrator(orderRepo, bus, clock, fulfillment.Config{
			StepTimeout: cfg.Saga.StepTimeout,
			Deadline:    cfg.Saga.Deadline,
		}, log, fulfillment.WithMetrics(fulfillmentMetrics))

		supervisor := fulfillment.NewSupervisor(orchestrator, idempotencyStore, shared.IdempotencyConfig{
			TTL:     cfg.Saga.IdempotencyTTL,
			Enabled: true,
		}, log)

		sagaScheduler, err = scheduler.New(scheduler.Config{
			Workers:        cfg.Saga.Workers,
			QueueSize:      cfg.Saga.QueueSize,
			RetryIntervals: cfg.Saga.RetryIntervals,
		}, supervisor, clock, log, scheduler.WithExhaustedHandler(supervisor.Exhausted))
		if err != nil {
			log.Fatal("Failed to create saga scheduler", zap.Error(err))
		}
		supervisor.Attach(sagaScheduler)
		supervisor.Register(bus)

		if err := sagaScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start saga scheduler", zap.Error(err))
		}
		log.Info("Saga scheduler started", zap.Int("workers", cfg.Saga.Workers))

		if cfg.Saga.SweepEnabled {
			sweeper = fulfillment.NewSweeper(orderRepo, sagaScheduler, clock, fulfillment.SweeperConfig{
				Interval:   cfg.Saga.SweepInterval,
				StaleAfter: cfg.Saga.StaleAfter,
				BatchSize:  cfg.Saga.QueueSize / 2,
			}, log)
		}
	}

	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start message bus", zap.Error(err))
	}

	// Resumed runs publish step requests, so the sweep waits for the bus
	if sweeper != nil {
		if err := sweeper.Start(ctx); err != nil {
			log.Fatal("Failed to start stalled order sweeper", zap.Error(err))
		}
	}

	var relay *event.Relay
	if cfg.Relay.Enabled {
		relay = event.NewRelay(outboxRepo, bus, clock, event.RelayConfig{
			BatchSize:        cfg.Relay.BatchSize,
			PollInterval:     cfg.Relay.PollInterval,
			Lease:            cfg.Relay.Lease,
			CleanupEnabled:   cfg.Relay.CleanupEnabled,
			CleanupInterval:  cfg.Relay.CleanupInterval,
			CleanupRetention: cfg.Relay.CleanupRetention,
			Policy: shared.RetryPolicy{
				MaxAttempts: cfg.Relay.MaxAttempts,
				BaseBackoff: cfg.Relay.BaseBackoff,
				MaxBackoff:  cfg.Relay.MaxBackoff,
			},
		}, log, event.WithRelayObserver(fulfillmentMetrics))
		if err := relay.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox relay", zap.Error(err))
		}
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies", zap.Error(err))
	}

	// Request ID first so the logger, the span and error responses share it
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: serviceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
		Logger:        log,
	}))
	profilingCfg := middleware.DefaultProfilingConfig()
	profilingCfg.Enabled = cfg.Telemetry.ProfilingEnabled
	engine.Use(middleware.ProfilingWithConfig(profilingCfg))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig()))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, db)
	engine.GET("/health", systemHandler.Health)

	// OpenAPI document and Swagger UI
	handler.NewDocsHandler(api.OpenAPI).Register(engine)

	router.NewRouter(engine).
		Register(
			handler.NewOrderHandler(intakeService, queryService).Routes(),
			handler.NewAdminHandler(adminService).Routes(),
			handler.NewOutboxHandler(outboxService).Routes(),
			systemHandler.Routes(),
		).
		Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
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

	shutdownTimeout := cfg.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop producers before the bus they publish to
	if relay != nil {
		if err := relay.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping outbox relay", zap.Error(err))
		}
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping stalled order sweeper", zap.Error(err))
		}
	}
	if sagaScheduler != nil {
		if err := sagaScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping saga scheduler", zap.Error(err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping message bus", zap.Error(err))
	}
	if err := idempotencyStore.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.Stop()
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	_ = logProvider.Shutdown(shutdownCtx)
}

func newBus(cfg config.BusConfig, log *zap.Logger) (messageBus, error) {
	if cfg.Driver == "rabbitmq" {
		bus, err := event.DialRabbitMQ(event.RabbitMQConfig{
			URL:         cfg.URL,
			Exchange:    cfg.Exchange,
			QueuePrefix: cfg.QueuePrefix,
			Prefetch:    cfg.Prefetch,
		}, log)
		if err != nil {
			return nil, err
		}
		return bus, nil
	}
	return event.NewInMemoryBus(log), nil
}

// autoMigrate applies the embedded migrations on its own connection, which
// the migrator closes when done
func autoMigrate(cfg config.DatabaseConfig, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return err
	}

	m, err := migration.NewEmbedded(sqlDB, migrations.FS, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Failed to close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}
