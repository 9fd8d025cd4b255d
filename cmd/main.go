/**
 * @description
 * Main entry point for the loan-accrual-service. It wires the state store,
 * notification sink and loan service client into the engine supervisor,
 * resumes stored loans, and serves the accrual read model over HTTP.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/loan-accrual-service/internal/api"
	"github.com/transfa/loan-accrual-service/internal/app"
	"github.com/transfa/loan-accrual-service/internal/config"
	"github.com/transfa/loan-accrual-service/internal/store"
	"github.com/transfa/loan-accrual-service/pkg/kafka"
	"github.com/transfa/loan-accrual-service/pkg/loanclient"
	"github.com/transfa/loan-accrual-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found; using environment", "error", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	repository, closeStore, err := openStateStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open state store", "driver", cfg.StateStoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	sink, closeSink, err := openNotificationSink(cfg, logger)
	if err != nil {
		logger.Error("failed to open notification sink", "sink", cfg.NotificationSink, "error", err)
		os.Exit(1)
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	var terms app.TermsProvider
	if cfg.LoanServiceURL == "" {
		logger.Warn("LOAN_SERVICE_URL not set; no loan can be initialized", "component", "bootstrap")
		terms = app.NewStaticTermsProvider()
	} else {
		terms = loanclient.NewClient(cfg.LoanServiceURL, cfg.LoanServiceInternalAPIKey)
	}

	dispatcher := app.NewDispatcher(sink, logger, metrics,
		app.WithSendTimeout(cfg.NotificationTimeout),
		app.WithAsyncDelivery(cfg.NotificationQueueSize),
	)
	defer dispatcher.Close()
	supervisor := app.NewSupervisor(
		repository,
		terms,
		dispatcher,
		app.SystemClock{},
		logger,
		metrics,
		app.EngineConfig{TickInterval: cfg.TickInterval, SaveTimeout: cfg.SaveTimeout},
	)
	defer supervisor.Shutdown()

	jobs := app.NewJobs(supervisor, logger)
	jobs.ResumeActiveLoans()

	scheduler := app.NewScheduler(jobs, logger, cfg.ResumeJobSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq consumer init failed; loans start only via HTTP", "error", err)
		} else {
			defer consumer.Close()
			loanEvents := app.NewLoanEventConsumer(supervisor, logger)
			bindings := map[string]rabbitmq.Handler{
				"loan.disbursed":     loanEvents.HandleMessage,
				"loan.accrual.watch": loanEvents.HandleMessage,
			}
			if err := consumer.ConsumeWithBindings(cfg.LoanEventsExchange, cfg.LoanEventsQueue, bindings); err != nil {
				logger.Error("loan event consumer start failed", "error", err)
				os.Exit(1)
			}
			logger.Info("loan event consumer started", "queue", cfg.LoanEventsQueue)
		}
	}

	handler := api.NewHandler(supervisor, logger)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL, cfg.InternalAPIKey, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Engines flush their last state on the way out.
	supervisor.Shutdown()
	dispatcher.Close()
	logger.Info("shutdown complete")
}

func openStateStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.StateRepository, func(), error) {
	switch cfg.StateStoreDriver {
	case config.StoreDriverPostgres:
		if cfg.RunMigrations {
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}

		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		logger.Info("database connection established")
		return store.NewPostgresRepository(dbpool), dbpool.Close, nil

	case config.StoreDriverRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url parse failed: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info("redis connected")
		return store.NewRedisRepository(client, cfg.RedisStatePrefix), func() { client.Close() }, nil

	case config.StoreDriverMemory:
		logger.Warn("using in-memory state store; accrual state will not survive a restart")
		return store.NewMemoryRepository(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", store.ErrUnknownDriver, cfg.StateStoreDriver)
}

func openNotificationSink(cfg config.Config, logger *slog.Logger) (app.NotificationSink, func(), error) {
	switch cfg.NotificationSink {
	case config.SinkRabbitMQ:
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq producer init failed: %w", err)
		}
		return app.NewAMQPSink(producer, cfg.LoanEventsExchange), producer.Close, nil

	case config.SinkKafka:
		producer := kafka.NewProducer(kafka.Config{Brokers: kafka.ParseBrokers(cfg.KafkaBrokers)})
		closeFn := func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close failed", "error", err)
			}
		}
		return app.NewKafkaSink(producer, cfg.KafkaTopic), closeFn, nil

	case config.SinkLog:
		return app.NewLogSink(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown notification sink %q", cfg.NotificationSink)
}
