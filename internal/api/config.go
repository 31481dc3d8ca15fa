package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/correlator-io/retail-analytics/internal/config"
)

const (
	defaultPort         int    = 8080
	maxPort             int    = 65535
	defaultHost         string = "0.0.0.0"
	defaultCORSMaxAge   int    = 86400
	defaultTimeout             = 30 * time.Second
	defaultLogLevel            = slog.LevelInfo
	defaultQueryTimeout        = 15 * time.Second
	serviceName         string = "retail-analytics"
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidQueryTimeout indicates the per-request query timeout is zero or negative.
	ErrInvalidQueryTimeout = errors.New("query timeout must be positive")
)

type (
	// ServerConfig holds HTTP server configuration. Runtime dependencies are passed
	// to NewServer separately.
	ServerConfig struct {
		Port               int
		Host               string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		QueryTimeout       time.Duration
		LogLevel           slog.Level
		Version            string
		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig holds CORS configuration options and implements middleware.CORSConfig.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig loads server configuration from RETAIL_API_* environment variables.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("RETAIL_API_PORT", defaultPort),
		Host:            config.GetEnvStr("RETAIL_API_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("RETAIL_API_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("RETAIL_API_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("RETAIL_API_SHUTDOWN_TIMEOUT", defaultTimeout),
		QueryTimeout:    config.GetEnvDuration("RETAIL_API_QUERY_TIMEOUT", defaultQueryTimeout),
		LogLevel:        config.GetEnvLogLevel("RETAIL_API_LOG_LEVEL", defaultLogLevel),
		Version:         config.GetEnvStr("RETAIL_API_VERSION", "dev"),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("RETAIL_API_CORS_ALLOWED_ORIGINS", "*"),
		),
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("RETAIL_API_CORS_ALLOWED_METHODS", "GET,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("RETAIL_API_CORS_ALLOWED_HEADERS", "Content-Type,X-Correlation-ID"),
		),
		CORSMaxAge: config.GetEnvInt("RETAIL_API_CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig extracts the CORS policy.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c *CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.QueryTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidQueryTimeout, c.QueryTimeout)
	}

	return nil
}
