// Package main is the entry point of the assessment engine API server.
//
// The server records and grades subject scores, ranks classes, analyzes
// promotion campaigns and executes them in batches. PostgreSQL is the
// record store when DATABASE_URL is set; otherwise an in-memory store is
// used, which is only suitable for local development. Redis is optional and
// provides the class results cache, the cross-process execution lock and
// event forwarding.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/school-portal/assessment-engine/config"
	"github.com/school-portal/assessment-engine/internal/application/command"
	"github.com/school-portal/assessment-engine/internal/application/eventhandler"
	"github.com/school-portal/assessment-engine/internal/application/query"
	"github.com/school-portal/assessment-engine/internal/application/tenant"
	"github.com/school-portal/assessment-engine/internal/domain/shared"
	"github.com/school-portal/assessment-engine/internal/infrastructure/messaging"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/memory"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/postgres"
	"github.com/school-portal/assessment-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/school-portal/assessment-engine/internal/interface/http"
	"github.com/school-portal/assessment-engine/internal/interface/http/handlers"
	"github.com/school-portal/assessment-engine/pkg/circuitbreaker"
	"github.com/school-portal/assessment-engine/pkg/logger"
	"github.com/school-portal/assessment-engine/pkg/retry"
	"github.com/school-portal/assessment-engine/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: cfg.Observability.LogFormat,
	}).With(logger.String("app", cfg.App.Name), logger.String("version", cfg.App.Version))

	log.Info("starting assessment engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. RECORD STORE
	// ─────────────────────────────────────────────────────────────────────────
	var store shared.RecordStore
	if cfg.Database.URL != "" {
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations completed", logger.Int("applied", applied))
		}

		store = postgres.NewRecordStore(conn)
		health.AddPoolCheck("postgres", conn)
	} else {
		if cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		log.Warn("DATABASE_URL not set, using in-memory store; data is lost on exit")
		store = memory.NewStore()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		resultsCache query.ResultsCache
		invalidator  command.ResultsInvalidator
		locker       command.Locker
		redisClient  *goredis.Client
	)
	if !cfg.Redis.Disabled {
		client, err := redis.NewClient(ctx, redisConfig(cfg))
		switch {
		case err != nil && cfg.Engine.ForwardEvents:
			return fmt.Errorf("failed to connect to Redis: %w", err)
		case err != nil:
			log.Warn("Redis unavailable, running without results cache and with a local execution lock", logger.Err(err))
		default:
			defer func() {
				log.Info("closing Redis connection")
				_ = client.Close()
			}()
			redisClient = client

			breaker := circuitbreaker.ResultsCacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			})
			cache := redis.NewCache(client, cfg.Engine.ResultsCacheTTL).WithBreaker(breaker)
			resultsCache, invalidator = cache, cache
			locker = redis.NewLocker(client)
			health.AddOptionalCheck("redis", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
			log.Info("Redis connection established", logger.String("addr", cfg.Redis.Addr))
		}
	}
	if locker == nil {
		locker = command.NewLocalLocker()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.AsyncMode = true
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	if err := bus.SubscribeAll(eventhandler.NewEventLogHandler(log).Handle); err != nil {
		return fmt.Errorf("subscribe event log: %w", err)
	}
	if err := eventhandler.NewExecutionAuditHandler(log).Register(bus); err != nil {
		return fmt.Errorf("subscribe execution audit: %w", err)
	}
	if cfg.Engine.ForwardEvents && redisClient != nil {
		if err := bus.SubscribeAll(messaging.NewRedisForwarder(redisClient, 0).Handle); err != nil {
			return fmt.Errorf("subscribe redis forwarder: %w", err)
		}
		log.Info("forwarding domain events to Redis", logger.String("prefix", messaging.ChannelPrefix))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	settings := tenant.NewStoreProvider(store, log)
	calendar := timeutil.NewCalendar(cfg.App.Location, cfg.AcademicYearStart())

	recordCfg := command.DefaultRecordScoreHandlerConfig()
	recordCfg.EnforceAssessmentLock = cfg.Engine.EnforceAssessmentLock

	execCfg := command.DefaultExecutePromotionConfig()
	execCfg.BatchSize = cfg.Engine.PromotionBatchSize
	execCfg.LockTTL = cfg.Engine.ExecutionLockTTL

	classResults := query.NewGetClassResultsHandler(store, settings, resultsCache, log)

	deps := httpserver.Dependencies{
		RecordScore:        command.NewRecordScoreHandler(store, settings, invalidator, bus, log, recordCfg),
		PublishScores:      command.NewPublishScoresHandler(store, invalidator, log),
		AnalyzeCampaign:    command.NewAnalyzeCampaignHandler(store, settings, bus, log),
		TransitionCampaign: command.NewTransitionCampaignHandler(store, bus, log),
		ExecutePromotion:   command.NewExecutePromotionHandler(store, locker, bus, log, calendar, execCfg),
		Settings:           settings,
		PreviewScore:       query.NewPreviewScoreHandler(settings),
		ClassResults:       classResults,
		StudentResult:      query.NewGetStudentResultHandler(classResults),
		Executions:         query.NewGetExecutionHandler(store),
		Logger:             log,
		HealthChecker:      health,
		Version:            cfg.App.Version,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpConfig.APIKeyHeader = cfg.HTTP.APIKeyHeader
	httpConfig.APIKeys = cfg.HTTP.APIKeys

	server := httpserver.NewServer(httpConfig, deps)
	errCh := server.StartAsync()

	log.Info("assessment engine is running", logger.String("http_address", httpConfig.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", logger.Err(err))
			return err
		}
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}
	log.Info("shutdown completed")
	return nil
}

// connectPostgres opens the pool, retrying while the database is still
// coming up.
func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig(cfg.Database.URL)
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	policy := retry.DefaultPolicy().With(
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(time.Second),
		retry.WithRetryIf(func(err error) bool { return ctx.Err() == nil }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not reachable, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	var conn *postgres.Connection
	err := policy.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	rc.ResultsTTL = cfg.Engine.ResultsCacheTTL
	return rc
}
