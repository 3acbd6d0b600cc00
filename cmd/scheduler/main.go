// Package main is the entry point for the blog scheduler service: the
// HTTP API plus the publication polling worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jonesrussell/blog-scheduler/internal/app"
	"github.com/jonesrussell/blog-scheduler/internal/config"
	"github.com/jonesrussell/blog-scheduler/internal/database"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
)

// version can be set at build time via -ldflags
var version = "dev"

func main() {
	var configPath string
	var migrationsPath string
	var runMigrations bool
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "Path to migrations directory")
	flag.BoolVar(&runMigrations, "migrate", false, "Apply pending database migrations and exit")
	flag.Parse()

	// Optional .env for local development; ignore if absent.
	_ = godotenv.Load()

	if runMigrations {
		migrate(configPath, migrationsPath)
		return
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to close application: %v\n", closeErr)
		}
	}()

	if runErr := application.Run(context.Background()); runErr != nil {
		application.Logger().Error("Application error")
		os.Exit(1)
	}
}

func migrate(configPath, migrationsPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := database.RunMigrations(cfg.Postgres, migrationsPath, log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}
}
