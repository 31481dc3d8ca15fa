// Package config reads settings from the environment and hosts shared test infrastructure.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue parses the variable named key. Unset, empty and unparsable values
// all yield defaultValue; a misspelt setting never stops a binary from starting.
func envValue[T any](key string, defaultValue T, parse func(string) (T, bool)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	if value, ok := parse(raw); ok {
		return value
	}

	return defaultValue
}

// GetEnvStr returns the raw value of key, untrimmed, or defaultValue when it is empty.
func GetEnvStr(key, defaultValue string) string {
	return envValue(key, defaultValue, func(s string) (string, bool) { return s, true })
}

func GetEnvInt(key string, defaultValue int) int {
	return envValue(key, defaultValue, func(s string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(s))

		return n, err == nil
	})
}

// GetEnvInt64 is GetEnvInt for byte sizes and other values past 32 bits.
func GetEnvInt64(key string, defaultValue int64) int64 {
	return envValue(key, defaultValue, func(s string) (int64, bool) {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)

		return n, err == nil
	})
}

// GetEnvBool accepts true/1/yes and false/0/no, ignoring case.
func GetEnvBool(key string, defaultValue bool) bool {
	return envValue(key, defaultValue, func(s string) (bool, bool) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}

		return false, false
	})
}

// GetEnvDuration parses Go duration syntax such as "90s" or "5m".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return envValue(key, defaultValue, func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(strings.TrimSpace(s))

		return d, err == nil
	})
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// GetEnvLogLevel maps debug, info, warn (or warning) and error onto slog levels.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	return envValue(key, defaultValue, func(s string) (slog.Level, bool) {
		level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]

		return level, ok
	})
}

// ParseCommaSeparatedList splits a comma-separated value into trimmed, non-empty parts.
//
//	brokers := ParseCommaSeparatedList(GetEnvStr("RETAIL_KAFKA_BROKERS", ""))
func ParseCommaSeparatedList(input string) []string {
	result := []string{}

	for part := range strings.SplitSeq(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// NewLogger builds a slog logger writing to stdout in the requested format.
// Format "json" selects the JSON handler; anything else falls back to text.
func NewLogger(format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
