package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/stockledger/internal/auth"
	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/event"
	handler "github.com/utafrali/stockledger/internal/handler/http"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/internal/repository/memory"
	"github.com/utafrali/stockledger/internal/repository/postgres"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/migrations"
	"github.com/utafrali/stockledger/pkg/database"
	"github.com/utafrali/stockledger/pkg/health"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/tracing"
)

const (
	serviceName    = "stock-ledger"
	serviceVersion = "0.1.0"

	// accessTokenExpiry only matters for tokens this service issues itself.
	accessTokenExpiry = 15 * time.Minute
)

// App wires together all dependencies and runs the stock ledger service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *pkgkafka.Consumer
	httpServer     *http.Server
	reservations   *service.Reservations
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	store, err := a.openStore(ctx)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// Kafka producer, or no events at all when Kafka is off.
	var publisher service.Publisher = service.NopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = event.NewProducer(a.producer, logger)
	}

	// Build the dependency graph.
	ledger := service.NewLedger(store, publisher, service.LedgerConfig{
		LockAttempts:             cfg.LockRetryAttempts,
		DefaultLowStockThreshold: cfg.DefaultLowStockThreshold,
	}, logger)
	a.reservations = service.NewReservations(store, publisher, service.ReservationConfig{
		LockAttempts: cfg.LockRetryAttempts,
		DefaultTTL:   cfg.DefaultReservationTTL(),
		MaxTTL:       cfg.MaxReservationTTL(),
		SweepBatch:   cfg.ReservationSweepBatch,
	}, logger)
	batch := service.NewBatch(store.Variants, ledger, cfg.BatchMaxItems, logger)
	alerts := service.NewAlerts(store.Variants)
	movements := service.NewMovements(store, cfg.LockRetryAttempts, logger)

	if cfg.KafkaEnabled {
		if err := a.setupConsumer(ctx, ledger); err != nil {
			a.closeResources()
			return nil, err
		}
	}

	// Health checks.
	healthHandler := health.NewHandler()
	if a.pool != nil {
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return a.pool.Ping(ctx)
		})
	}
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}
	if a.redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	// HTTP router.
	stockHandler := handler.NewStockHandler(ledger, a.reservations, batch, alerts, movements, logger)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, accessTokenExpiry)
	router := handler.NewRouter(stockHandler, healthHandler, jwtManager.Validator(), logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStore connects the configured backend. The postgres backend also runs
// migrations and registers pool metrics.
func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory stock store, data is lost on restart")
		return memory.NewStore(cfg.LockTimeout()).Repositories(), nil
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return repository.Store{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return repository.Store{}, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	return postgres.NewStore(pool, cfg.LockTimeout()), nil
}

// setupConsumer subscribes to order and catalog events. Processed event ids
// are remembered in Redis when enabled so redeliveries across restarts and
// replicas are skipped.
func (a *App) setupConsumer(ctx context.Context, ledger *service.Ledger) error {
	cfg, logger := a.cfg, a.logger

	var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.EventDedupTTL())
	if cfg.RedisEnabled {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		store = pkgkafka.NewRedisIdempotencyStore(client, serviceName+":events", cfg.EventDedupTTL())
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}

	eventConsumer := event.NewConsumer(a.reservations, ledger, logger)
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topics:   event.ConsumedTopics,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(store, eventConsumer.Handle, logger), a.dlq, logger)
	return nil
}

// Run starts the HTTP server, Kafka consumer, and expiry sweeper, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("store", a.cfg.StoreDriver),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start Kafka consumer.
	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("event consumer: %w", err)
			}
		}()
	}

	// Start background reservation expiry.
	go a.runExpirySweeper(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// runExpirySweeper expires holds past their TTL at a fixed interval.
func (a *App) runExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.reservations.SweepExpired(ctx)
			if err != nil {
				a.logger.Error("reservation sweep error", slog.String("error", err.Error()))
			} else if res.Expired > 0 || res.Failed > 0 {
				a.logger.Info("expired reservations swept",
					slog.Int("expired", res.Expired),
					slog.Int("skipped", res.Skipped),
					slog.Int("failed", res.Failed),
				)
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer and DLQ producer
// 4. Kafka producer
// 5. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources closes whatever NewApp managed to open.
func (a *App) closeResources() []error {
	var errs []error
	closeWith := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Error(name+" close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		closeWith("event consumer", a.consumer.Close)
	}
	if a.dlq != nil {
		closeWith("dlq producer", a.dlq.Close)
	}
	if a.producer != nil {
		closeWith("kafka producer", a.producer.Close)
	}
	if a.redis != nil {
		closeWith("redis", a.redis.Close)
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errs
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.25

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, producer.Ping(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(3),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("kafka producer ping failed, retrying",
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", err)
	}
	return nil
}
