package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/imagepipe/internal/api/handler"
	"github.com/cuongbtq/imagepipe/internal/api/router"
	"github.com/cuongbtq/imagepipe/internal/config"
	"github.com/cuongbtq/imagepipe/internal/gateway"
	"github.com/cuongbtq/imagepipe/internal/jobs"
	"github.com/cuongbtq/imagepipe/internal/media"
	"github.com/cuongbtq/imagepipe/internal/notify"
	"github.com/cuongbtq/imagepipe/internal/storage"
	"github.com/cuongbtq/imagepipe/internal/transform"
	"github.com/cuongbtq/imagepipe/internal/worker"
	"github.com/cuongbtq/imagepipe/shared/logger"
	"github.com/cuongbtq/imagepipe/shared/postgresql"
	"github.com/cuongbtq/imagepipe/shared/rabbitmq"
	"github.com/cuongbtq/imagepipe/shared/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// database is the part of the postgres and sqlite clients used here
type database interface {
	GetDB() *sqlx.DB
	HealthCheck(ctx context.Context) error
	Close() error
}

func main() {
	if err := run(); err != nil {
		logger.NewDefault().Error("API service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.NewDefault().Info("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("dispatch", cfg.Jobs.Dispatch),
		slog.String("transform", cfg.Jobs.Transform),
	)

	// Initialize database client
	db, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	imageStore := storage.NewImageStore(db.GetDB(), appLogger.Logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := imageStore.Migrate(startupCtx); err != nil {
		return err
	}
	if _, err := imageStore.ResetProcessing(startupCtx); err != nil {
		return err
	}

	appLogger.Info("Database ready")

	mediaStore := media.NewStore(cfg.Media.Root, cfg.Media.URLPrefix)

	tr, err := transform.New(cfg.Jobs.Transform)
	if err != nil {
		return err
	}

	bus := notify.NewBus(cfg.Notify.BufferSize, appLogger.Logger)

	runner := jobs.NewRunner(&jobs.Config{
		Store:            imageStore,
		Media:            mediaStore,
		Transform:        tr,
		Bus:              bus,
		Logger:           appLogger.Logger,
		DelayMin:         cfg.Jobs.DelayMin,
		DelayMax:         cfg.Jobs.DelayMax,
		TransformTimeout: cfg.Jobs.TransformTimeout,
	})

	// Jobs are dispatched straight to the runner unless RabbitMQ carries them
	var dispatcher handler.Dispatcher = runner
	var jobWorker *worker.Worker

	if cfg.Jobs.Dispatch == config.DispatchRabbitMQ {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")

		dispatcher = worker.NewPublisher(rabbitClient, appLogger.Logger)
		jobWorker = worker.NewWorker(&worker.Config{
			Logger:        appLogger.Logger,
			Broker:        rabbitClient,
			Runner:        runner,
			PrefetchCount: cfg.Jobs.PrefetchCount,
		})
	}

	gw := gateway.New(bus, imageStore, mediaStore, gateway.Config{
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		PongTimeout:     cfg.Gateway.PongTimeout,
		PingInterval:    cfg.Gateway.PingInterval,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		SendBuffer:      cfg.Gateway.SendBuffer,
		AllowedOrigins:  cfg.Gateway.AllowedOrigins,
	}, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:         appLogger.Logger,
		Store:          imageStore,
		Media:          mediaStore,
		Dispatcher:     dispatcher,
		Jobs:           runner,
		DB:             db,
		Subscribers:    bus,
		ServiceName:    cfg.App.Name,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		DelayHint:      cfg.Jobs.DelayHint(),
	}, gw)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if jobWorker != nil {
		g.Go(func() error {
			return jobWorker.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
		}

		if jobWorker != nil {
			jobWorker.Stop()
		}
		gw.Close()
		runner.Stop()
		bus.Close()

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initDatabase opens the configured item store backend
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (database, error) {
	if cfg.Driver == config.DriverSQLite {
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	dbConfig := &postgresql.Config{
		Driver:          cfg.Driver,
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

	client, err := postgresql.NewClient(dbConfig, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies, gw *gateway.Gateway) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Setup router
	return router.SetupRouter(deps, router.Options{
		MediaRoot:          cfg.Media.Root,
		MediaPrefix:        cfg.Media.URLPrefix,
		Websocket:          gw.Handle,
		MaxMultipartMemory: cfg.Media.MaxUploadBytes,
		AllowedOrigins:     cfg.Gateway.AllowedOrigins,
	})
}
