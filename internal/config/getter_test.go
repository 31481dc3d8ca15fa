package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("RETAIL_TEST_STR", "warehouse")

	assert.Equal(t, "warehouse", GetEnvStr("RETAIL_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnvStr("RETAIL_TEST_STR_UNSET", "fallback"))

	t.Setenv("RETAIL_TEST_STR", " spaced ")
	assert.Equal(t, " spaced ", GetEnvStr("RETAIL_TEST_STR", "fallback"), "strings are not trimmed")
}

func TestGetEnvInt_InvalidFallsBack(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("RETAIL_TEST_INT", "not-a-number")
	assert.Equal(t, 42, GetEnvInt("RETAIL_TEST_INT", 42))

	t.Setenv("RETAIL_TEST_INT", "7")
	assert.Equal(t, 7, GetEnvInt("RETAIL_TEST_INT", 42))

	t.Setenv("RETAIL_TEST_INT", " 8080 ")
	assert.Equal(t, 8080, GetEnvInt("RETAIL_TEST_INT", 42))

	t.Setenv("RETAIL_TEST_INT64", "268435456")
	assert.Equal(t, int64(268435456), GetEnvInt64("RETAIL_TEST_INT64", 1))

	t.Setenv("RETAIL_TEST_INT64", "1.5GB")
	assert.Equal(t, int64(1), GetEnvInt64("RETAIL_TEST_INT64", 1))
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"false", true, false},
		{"no", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("RETAIL_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, GetEnvBool("RETAIL_TEST_BOOL", tt.fallback))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("RETAIL_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, GetEnvDuration("RETAIL_TEST_DURATION", time.Minute))

	t.Setenv("RETAIL_TEST_DURATION", "soon")
	assert.Equal(t, time.Minute, GetEnvDuration("RETAIL_TEST_DURATION", time.Minute))
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("RETAIL_TEST_LEVEL", " Warning ")
	assert.Equal(t, slog.LevelWarn, GetEnvLogLevel("RETAIL_TEST_LEVEL", slog.LevelInfo))

	t.Setenv("RETAIL_TEST_LEVEL", "verbose")
	assert.Equal(t, slog.LevelInfo, GetEnvLogLevel("RETAIL_TEST_LEVEL", slog.LevelInfo))
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, ParseCommaSeparatedList(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Empty(t, ParseCommaSeparatedList(""))
}

func TestNewLogger(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.IsType(t, &slog.JSONHandler{}, NewLogger("JSON", slog.LevelDebug).Handler())
	assert.IsType(t, &slog.TextHandler{}, NewLogger("text", slog.LevelDebug).Handler())
	assert.IsType(t, &slog.TextHandler{}, NewLogger("", slog.LevelDebug).Handler())
}
