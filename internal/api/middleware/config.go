package middleware

import (
	"time"

	"github.com/correlator-io/retail-analytics/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for two tiers: a global limit shared by
// every caller and a per-client limit keyed by remote IP. A zero burst is
// computed as 2 × rate.
type Config struct {
	GlobalRPS int // Default: 100
	ClientRPS int // Default: 20

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("RETAIL_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("RETAIL_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("RETAIL_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("RETAIL_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration("RETAIL_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RETAIL_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("RETAIL_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
