// Package main provides the database migration CLI for the retail warehouse.
//
// Migrations are embedded in the binary, so the tool needs nothing but a
// connection string to bring a database up to date.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/storage"
	"github.com/correlator-io/retail-analytics/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

// ErrUnknownCommand is returned for commands the migrator does not implement.
var ErrUnknownCommand = errors.New("unknown command")

// migrationRunner is the subset of migrations.Runner the commands use.
type migrationRunner interface {
	Up() error
	Down() error
	Status() (migrations.Status, error)
	Drop() error
}

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *configHelp || flag.NArg() < 1 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	command := flag.Arg(0)

	_ = godotenv.Load()

	logger := config.NewLogger("text", config.GetEnvLogLevel("RETAIL_LOG_LEVEL", slog.LevelInfo))

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Debug("Loaded migrator configuration", slog.String("config", cfg.String()))

	conn, err := storage.NewConnection(storage.LoadConfig().WithDatabaseURL(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	runner, err := migrations.NewRunner(context.Background(), conn.DB, cfg.MigrationTable,
		migrations.WithLogger(logger))
	if err != nil {
		_ = conn.Close()

		log.Fatalf("Failed to create migration runner: %v", err)
	}

	cmdErr := executeCommand(command, runner, os.Stdin, os.Stdout)

	_ = runner.Close()
	_ = conn.Close()

	if cmdErr != nil {
		log.Fatalf("Migration failed: %v", cmdErr)
	}
}

// executeCommand runs the specified migration command. Drop asks for
// confirmation on in before doing anything.
func executeCommand(command string, runner migrationRunner, in io.Reader, out io.Writer) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		status, err := runner.Status()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, status.String())

		return nil
	case "version":
		status, err := runner.Status()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "%d\n", status.Version)

		return nil
	case "drop":
		_, _ = fmt.Fprint(out, "WARNING: This will drop all tables. Are you sure? (y/N): ")

		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(response), "y") {
			return runner.Drop()
		}

		_, _ = fmt.Fprintln(out, "Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintf(out, `%s v%s - Database Migration Tool for the retail warehouse

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL     PostgreSQL connection string
                     (default: local development warehouse)

    MIGRATION_TABLE  Name of migration tracking table
                     (default: %s)

    RETAIL_LOG_LEVEL debug, info, warn or error (default: info)

EXAMPLES:
    %s up          # Apply all pending migrations
    %s status      # Show current migration status
    %s down        # Rollback last migration
    %s --version   # Show version information
`, name, version, name, migrations.DefaultTable, name, name, name, name)
}
