package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tuanbq/marketplace-be/internal/config"
	"github.com/tuanbq/marketplace-be/internal/engine/lifecycle"
	"github.com/tuanbq/marketplace-be/internal/engine/notify"
	"github.com/tuanbq/marketplace-be/internal/engine/payments"
	"github.com/tuanbq/marketplace-be/internal/engine/storage"
	"github.com/tuanbq/marketplace-be/internal/worker"
	"github.com/tuanbq/marketplace-be/shared/logger"
	"github.com/tuanbq/marketplace-be/shared/postgresql"
	"github.com/tuanbq/marketplace-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("ENGINE_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/engine-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting engine service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	store := storage.NewStorage(dbClient, appLogger.Logger)
	notifier := notify.NewNotifier(rabbitClient, appLogger.Logger)
	processor := payments.NewLoggingProcessor(appLogger.Logger)

	jobs := lifecycle.NewJobLifecycle(&lifecycle.JobConfig{
		Store:           store,
		Processor:       processor,
		Notifier:        notifier,
		Logger:          appLogger.Logger,
		ContractorShare: cfg.Engine.ContractorShare,
	})

	paymentRequests := lifecycle.NewPaymentRequestLifecycle(&lifecycle.PaymentConfig{
		Store:              store,
		Processor:          processor,
		Notifier:           notifier,
		Logger:             appLogger.Logger,
		StatusPollInterval: cfg.Engine.PaymentStatusInterval,
	})

	w := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Logger,
		Store:           store,
		Jobs:            jobs,
		PaymentRequests: paymentRequests,
		RabbitClient:    rabbitClient,
		Concurrency:     cfg.Worker.Concurrency,
		PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("worker failed: %w", err)
		}
	case sig := <-quit:
		appLogger.Info("Shutdown signal received",
			slog.String("signal", sig.String()),
		)
	}

	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		w.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		appLogger.Info("Engine service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, exiting")
	}

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
