// Package main provides the retail analytics query service.
//
// It serves the metrics computed over the warehouse fact table as a read-only
// JSON API. The pipeline command populates the warehouse.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/correlator-io/retail-analytics/internal/api"
	"github.com/correlator-io/retail-analytics/internal/api/middleware"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "retail-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	_ = godotenv.Load()

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting retail analytics service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Duration("query_timeout", serverConfig.QueryTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()

	// Closed by the server on shutdown.
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("max_clients", middlewareConfig.MaxClients),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		_ = rateLimiter.Close()
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	warehouse, err := storage.NewWarehouse(dbConn, storage.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to open warehouse", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1) //nolint:gocritic // explicit cleanup above, defer does not run on exit
	}

	logger.Info("Warehouse initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	engine, err := metrics.NewEngine(warehouse, metrics.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create metrics engine", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	server, err := api.NewServer(serverConfig, api.Dependencies{
		Engine: engine,
		Health: warehouse,
		Runs:   warehouse,
		Logger: logger,
	}, rateLimiter)
	if err != nil {
		logger.Error("Failed to create server", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Retail analytics service stopped")
}
