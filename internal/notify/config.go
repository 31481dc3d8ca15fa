// Package notify announces committed snapshots to downstream consumers.
package notify

import (
	"errors"
	"log/slog"
	"time"

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

const (
	// DefaultTopic receives one event per successful pipeline run.
	DefaultTopic = "retail.pipeline.runs"

	defaultWriteTimeout = 10 * time.Second
)

// ErrTopicEmpty is returned when brokers are configured without a topic.
var ErrTopicEmpty = errors.New("kafka topic cannot be empty")

// Config selects the publisher. No brokers means notifications are disabled.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig reads RETAIL_KAFKA_BROKERS, RETAIL_KAFKA_TOPIC and RETAIL_KAFKA_WRITE_TIMEOUT.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("RETAIL_KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("RETAIL_KAFKA_TOPIC", DefaultTopic),
		WriteTimeout: config.GetEnvDuration("RETAIL_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether any broker is configured.
func (c *Config) Enabled() bool {
	return c != nil && len(c.Brokers) > 0
}

// New returns a Kafka publisher when brokers are configured and Noop otherwise.
func New(cfg *Config, logger *slog.Logger) (pipeline.Publisher, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}

	return NewKafkaPublisher(cfg, logger)
}
