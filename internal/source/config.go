// Package source acquires the raw Online Retail dataset and decodes it into raw records.
//
// A location is an http(s) URL, a gs://bucket/object URL or a local path. The
// payload is either an Excel workbook or a CSV file; header names are matched to
// the canonical columns case-insensitively and through an optional alias table.
package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/correlator-io/retail-analytics/internal/config"
)

const (
	// DefaultLocation is the UCI Machine Learning Repository Online Retail workbook.
	DefaultLocation = "https://archive.ics.uci.edu/ml/machine-learning-databases/00352/Online%20Retail.xlsx"

	defaultTimeout  = 5 * time.Minute
	defaultMaxBytes = 256 << 20
)

var (
	// ErrLocationEmpty is returned when no source location is configured.
	ErrLocationEmpty = errors.New("source location cannot be empty")
	// ErrInvalidTimeout is returned for a non-positive fetch timeout.
	ErrInvalidTimeout = errors.New("source timeout must be greater than zero")
	// ErrInvalidMaxBytes is returned for a non-positive size cap.
	ErrInvalidMaxBytes = errors.New("source max bytes must be greater than zero")
)

// Config describes where and how to acquire the dataset.
type Config struct {
	Location    string
	Sheet       string // Workbook sheet; empty selects the first sheet.
	Timeout     time.Duration
	MaxBytes    int64
	ColumnsPath string
}

// LoadConfig reads the source configuration from the environment.
func LoadConfig() *Config {
	return &Config{
		Location:    config.GetEnvStr("RETAIL_SOURCE_URL", DefaultLocation),
		Sheet:       config.GetEnvStr("RETAIL_SOURCE_SHEET", ""),
		Timeout:     config.GetEnvDuration("RETAIL_SOURCE_TIMEOUT", defaultTimeout),
		MaxBytes:    config.GetEnvInt64("RETAIL_SOURCE_MAX_BYTES", defaultMaxBytes),
		ColumnsPath: config.GetEnvStr(ColumnsPathEnvVar, DefaultColumnsPath),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return ErrLocationEmpty
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Timeout)
	}

	if c.MaxBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxBytes, c.MaxBytes)
	}

	return nil
}
