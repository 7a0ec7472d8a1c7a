package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/meterline/backend/internal/application/quota"
	"github.com/meterline/backend/internal/domain/account"
	"github.com/meterline/backend/internal/infrastructure/auth"
	"github.com/meterline/backend/internal/infrastructure/cache"
	"github.com/meterline/backend/internal/infrastructure/config"
	"github.com/meterline/backend/internal/infrastructure/logger"
	"github.com/meterline/backend/internal/infrastructure/messaging"
	"github.com/meterline/backend/internal/infrastructure/migration"
	"github.com/meterline/backend/internal/infrastructure/persistence"
	"github.com/meterline/backend/internal/infrastructure/scheduler"
	"github.com/meterline/backend/internal/infrastructure/telemetry"
	"github.com/meterline/backend/internal/interfaces/http/handler"
	"github.com/meterline/backend/internal/interfaces/http/middleware"
	"github.com/meterline/backend/internal/interfaces/http/router"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// accountStore is satisfied by every account store implementation
type accountStore interface {
	account.AccountRepository
	Ping(ctx context.Context) error
}

// eventPublisher is satisfied by every event publisher implementation
type eventPublisher interface {
	account.UsageEventPublisher
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		Service:     cfg.App.Name,
		Environment: cfg.App.Env,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting usage engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("store", cfg.Quota.Store),
	)

	ctx := context.Background()

	// Telemetry
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	quotaMetrics, err := telemetry.NewQuotaMetrics(provider.Meter(telemetry.TracerName))
	if err != nil {
		log.Fatal("Failed to create quota metrics", zap.Error(err))
	}

	// Redis is shared by the Redis store and the Redis duplicate guard
	var redisClient *goredis.Client
	if cfg.Quota.Store == "redis" || cfg.Quota.DuplicateGuard == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing Redis client", zap.Error(err))
			}
		}()
	}

	// Account store
	store, closeStore, err := openAccountStore(ctx, cfg, redisClient, log)
	if err != nil {
		log.Fatal("Failed to open account store", zap.Error(err))
	}
	defer closeStore()

	// Duplicate guard
	guardFactory := cache.NewDuplicateGuardFactory(cfg.Quota, cfg.Redis,
		cache.WithLogger(log),
		cache.WithRedisClient(redisClient),
	)
	guard, err := guardFactory.CreateGuard()
	if err != nil {
		log.Fatal("Failed to create duplicate guard", zap.Error(err))
	}
	defer func() {
		if err := guard.Close(); err != nil {
			log.Error("Error closing duplicate guard", zap.Error(err))
		}
	}()

	// Event publisher
	publisher, err := newEventPublisher(cfg.Events, log)
	if err != nil {
		log.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("Error closing event publisher", zap.Error(err))
		}
	}()

	// Usage engine
	usageService := quota.NewUsageService(store, guard, log.Named("quota"), quota.Config{
		OperationTimeout: cfg.Quota.OperationTimeout,
		BulkTimeout:      cfg.Scheduler.SweepTimeout,
		RetryAttempts:    cfg.Quota.RetryAttempts,
		RetryDelay:       cfg.Quota.RetryDelay,
		SweepPageSize:    cfg.Scheduler.PageSize,
	},
		quota.WithRecorder(quotaMetrics),
		quota.WithEventPublisher(publisher),
	)

	// Reconciliation scheduler
	reconciliationScheduler := scheduler.NewReconciliationScheduler(usageService, log.Named("scheduler"),
		scheduler.ReconciliationSchedulerConfig{
			Enabled:      cfg.Scheduler.Enabled,
			Interval:     cfg.Scheduler.Interval,
			SweepTimeout: cfg.Scheduler.SweepTimeout,
		})
	schedulerCtx, cancelScheduler := context.WithCancel(ctx)
	defer cancelScheduler()
	if err := reconciliationScheduler.Start(schedulerCtx); err != nil {
		log.Fatal("Failed to start reconciliation scheduler", zap.Error(err))
	}

	// HTTP
	jwtService := auth.NewJWTService(cfg.JWT)
	healthChecks := map[string]handler.HealthCheck{"store": store.Ping}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	engine, err := router.New(router.Config{
		Logger:         log,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: cfg.Telemetry.Enabled,
		CORS:           corsConfig,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Validator:      jwtService,
		AdminAPIKey:    cfg.Admin.APIKey,
		Usage:          handler.NewUsageHandler(usageService, jwtService),
		Admin:          handler.NewAdminHandler(usageService, jwtService, reconciliationScheduler, cfg.JWT.AccessTokenTTL),
		Health:         handler.NewHealthHandler(version, healthChecks),
	})
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconciliationScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Reconciliation scheduler did not stop cleanly", zap.Error(err))
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// openAccountStore opens the store selected by quota.store and prepares its schema
func openAccountStore(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, log *zap.Logger) (accountStore, func(), error) {
	switch cfg.Quota.Store {
	case "memory":
		log.Warn("Using in-memory account store; usage is lost on restart")
		return persistence.NewMemoryAccountStore(), func() {}, nil

	case "redis":
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return persistence.NewRedisAccountStore(redisClient), func() {}, nil

	case "postgres", "sqlite":
		dbCfg := cfg.Database
		dbCfg.Driver = cfg.Quota.Store

		gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
			logger.WithFullSQL(cfg.Telemetry.DBLogFullSQL))
		db, err := persistence.NewDatabaseWithLogger(&dbCfg, gormLog)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Error("Error closing database", zap.Error(err))
			}
		}

		if cfg.Telemetry.DBTraceEnabled {
			dbSystem := "postgresql"
			if dbCfg.Driver == "sqlite" {
				dbSystem = "sqlite"
			}
			if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
				Enabled:    true,
				LogFullSQL: cfg.Telemetry.DBLogFullSQL,
				DBSystem:   dbSystem,
			}, log); err != nil {
				closeDB()
				return nil, nil, err
			}
		}

		if err := prepareSchema(&dbCfg, db, log); err != nil {
			closeDB()
			return nil, nil, err
		}

		log.Info("Database connected successfully", zap.String("driver", dbCfg.Driver))
		return persistence.NewAccountRepository(db.DB), closeDB, nil

	default:
		return nil, nil, fmt.Errorf("unsupported quota store %q", cfg.Quota.Store)
	}
}

// prepareSchema applies the embedded migrations on PostgreSQL and
// auto-migrates the accounts table on SQLite
func prepareSchema(dbCfg *config.DatabaseConfig, db *persistence.Database, log *zap.Logger) error {
	if dbCfg.Driver == "sqlite" {
		return db.DB.AutoMigrate(&persistence.AccountModel{})
	}

	// The migrate driver closes the connection it is given, so it gets its own.
	sqlDB, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	m, err := migration.New(sqlDB, log.Named("migrate"))
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Error closing migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

func newEventPublisher(cfg config.EventsConfig, log *zap.Logger) (eventPublisher, error) {
	switch cfg.Backend {
	case "kafka":
		log.Info("Publishing usage events to Kafka",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic))
		return messaging.NewKafkaPublisher(messaging.KafkaConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		}, log)
	default:
		return messaging.NewLogPublisher(log), nil
	}
}
