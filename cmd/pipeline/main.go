// Package main runs one retail pipeline refresh: acquire the Online Retail
// dataset, clean it, and replace the warehouse fact table.
//
// The process exits non-zero when the run fails. A failed run leaves the
// previous snapshot in place.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/notify"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
	"github.com/correlator-io/retail-analytics/internal/source"
	"github.com/correlator-io/retail-analytics/internal/storage"
	"github.com/correlator-io/retail-analytics/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "pipeline"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		databaseURL = flag.String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
		location    = flag.String("source", "", "dataset location (overrides RETAIL_SOURCE_URL)")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	logger := config.NewLogger(
		config.GetEnvStr("RETAIL_LOG_FORMAT", "text"),
		config.GetEnvLogLevel("RETAIL_LOG_LEVEL", slog.LevelInfo),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, logger, *databaseURL, *location)

	stop()

	if err != nil {
		logger.Error("Pipeline failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, databaseURL, location string) error {
	storageConfig := storage.LoadConfig().WithDatabaseURL(databaseURL)

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	logger.Info("Connected to warehouse", slog.String("database_url", storageConfig.MaskDatabaseURL()))

	if config.GetEnvBool("RETAIL_AUTO_MIGRATE", true) {
		table := config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultTable)
		if err := migrations.Up(ctx, conn.DB, table, migrations.WithLogger(logger)); err != nil {
			return fmt.Errorf("failed to migrate warehouse: %w", err)
		}
	}

	sourceConfig := source.LoadConfig()
	if location != "" {
		sourceConfig.Location = location
	}

	src, err := source.New(sourceConfig, source.WithLogger(logger))
	if err != nil {
		return err
	}

	warehouse, err := storage.NewWarehouse(conn, storage.WithLogger(logger))
	if err != nil {
		return err
	}

	notifyConfig := notify.LoadConfig()

	publisher, err := notify.New(notifyConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher", slog.String("error", err.Error()))
		}
	}()

	if notifyConfig.Enabled() {
		logger.Info("Snapshot notifications enabled",
			slog.Any("brokers", notifyConfig.Brokers),
			slog.String("topic", notifyConfig.Topic),
		)
	}

	runner, err := pipeline.NewRunner(src, warehouse,
		pipeline.WithRecorder(warehouse),
		pipeline.WithPublisher(publisher),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Pipeline interrupted", slog.String("run_id", result.ID.String()))
		}

		return err
	}

	return nil
}
