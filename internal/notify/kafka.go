package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

// EventSnapshotPublished is the event type header value.
const EventSnapshotPublished = "SnapshotPublished"

var (
	// ErrPublishFailed wraps every failure to deliver an event.
	ErrPublishFailed = errors.New("snapshot event publish failed")

	_ pipeline.Publisher = (*KafkaPublisher)(nil)
)

type (
	// SnapshotEvent is the message body published after a snapshot commits.
	SnapshotEvent struct {
		RunID      string    `json:"run_id"`
		Source     string    `json:"source"`
		RawRows    int       `json:"raw_rows"`
		CleanRows  int       `json:"clean_rows"`
		FinishedAt time.Time `json:"finished_at"`
	}

	// messageWriter is the subset of *kafka.Writer the publisher needs.
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// KafkaPublisher writes one SnapshotEvent per successful run, keyed by run id.
	KafkaPublisher struct {
		writer  messageWriter
		topic   string
		timeout time.Duration
		logger  *slog.Logger
	}
)

// NewSnapshotEvent builds the event for a run.
func NewSnapshotEvent(run pipeline.Run) SnapshotEvent {
	return SnapshotEvent{
		RunID:      run.ID.String(),
		Source:     run.Source,
		RawRows:    run.RawRows,
		CleanRows:  run.CleanRows,
		FinishedAt: run.FinishedAt.UTC(),
	}
}

// NewKafkaPublisher creates a publisher for cfg.Topic on cfg.Brokers.
// The topic is created on first write when the broker allows it.
func NewKafkaPublisher(cfg *Config, logger *slog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, ErrTopicEmpty
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           timeout,
	}

	return newKafkaPublisher(w, cfg.Topic, timeout, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, timeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaPublisher{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish implements pipeline.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, run pipeline.Run) error {
	event := NewSnapshotEvent(run)

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: body,
		Time:  event.FinishedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventSnapshotPublished)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublishFailed, p.topic, err)
	}

	p.logger.Info("Published snapshot event",
		slog.String("topic", p.topic),
		slog.String("run_id", event.RunID),
		slog.Int("clean_rows", event.CleanRows))

	return nil
}

// Close flushes pending messages and releases broker connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
