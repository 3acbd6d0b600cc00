// Package app provides the application lifecycle management for the
// blog scheduler service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/blog-scheduler/internal/api"
	"github.com/jonesrussell/blog-scheduler/internal/config"
	"github.com/jonesrussell/blog-scheduler/internal/database"
	"github.com/jonesrussell/blog-scheduler/internal/dedup"
	"github.com/jonesrussell/blog-scheduler/internal/executor"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/metrics"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
	"github.com/jonesrussell/blog-scheduler/internal/scheduler"
	"github.com/jonesrussell/blog-scheduler/internal/service"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	redisPingTimeout   = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
)

// App represents the scheduler application with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *redis.Client
	service     *service.Service
	poller      *scheduler.Poller
	httpServer  *http.Server
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string

	// DisablePoller runs the HTTP API without the publication worker,
	// for deployments that scale the API and worker separately.
	DisablePoller bool
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "blog-scheduler"),
		logger.String("version", opts.Version),
	)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgresConnection(cfg.Postgres)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
		_ = db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", pingErr)
	}

	platformClient, err := platform.NewHTTPClient(
		cfg.Platform.URL, cfg.Platform.AccessToken, cfg.Platform.Timeout, appLogger)
	if err != nil {
		_ = db.Close()
		_ = redisClient.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create platform client: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	repo := database.NewScheduleRepository(db)
	guard := dedup.NewGuard(repo, redisClient, cfg.Dedup.TitleWindow, appLogger)
	exec := executor.New(platformClient, executor.Config{
		MaxAttempts:    cfg.Publish.MaxAttempts,
		InitialBackoff: cfg.Publish.InitialBackoff,
		MaxBackoff:     cfg.Publish.MaxBackoff,
	}, appLogger)

	svc := service.New(repo, guard, exec, m, appLogger, nil)

	var poller *scheduler.Poller
	if !opts.DisablePoller {
		poller = scheduler.New(repo, exec, scheduler.Config{
			PollInterval:    cfg.Poller.Interval,
			BatchSize:       cfg.Poller.BatchSize,
			Workers:         cfg.Poller.Workers,
			PublishTimeout:  cfg.Publish.Timeout,
			PastDueAfter:    cfg.Poller.PastDueAfter,
			StaleClaimAfter: cfg.Poller.StaleClaimAfter,
		}, m, appLogger)
	}

	router := api.NewRouter(svc, prometheus.DefaultGatherer, cfg.Server.CORSOrigins, appLogger,
		api.HealthCheck{Name: "database", Check: func() error {
			checkCtx, checkCancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer checkCancel()
			return repo.Ping(checkCtx)
		}},
		api.HealthCheck{Name: "redis", Check: func() error {
			checkCtx, checkCancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer checkCancel()
			return redisClient.Ping(checkCtx).Err()
		}},
	)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		service:     svc,
		poller:      poller,
		httpServer:  httpServer,
		version:     opts.Version,
	}, nil
}

// Run starts the poller and the HTTP server, then blocks until a
// shutdown signal or a server error.
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	if a.poller != nil {
		a.poller.Start(workerCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening",
			logger.String("address", a.config.Server.Address),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	return a.waitForShutdown(workerCancel, serverErr)
}

// waitForShutdown handles graceful shutdown
func (a *App) waitForShutdown(workerCancel context.CancelFunc, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()),
		)
	case err := <-serverErr:
		a.logger.Error("Server error", logger.Error(err))
		shutdownErr = err
	}

	workerCancel()
	if a.poller != nil {
		a.poller.Stop()
	}
	a.shutdownHTTPServer()

	a.logger.Info("Service stopped")
	return shutdownErr
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}
}

// Close cleans up resources
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("Failed to close database", logger.Error(err))
	}
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
