package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/storage"
	"github.com/correlator-io/retail-analytics/migrations"
)

var (
	// ErrDatabaseURLEmpty is returned when no connection string is configured.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")
	// ErrMigrationTableEmpty is returned when the bookkeeping table name is blank.
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table golang-migrate tracks versions in.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with local-development defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", storage.DefaultDatabaseURL),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String returns a representation that is safe to log.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		storage.MaskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}
