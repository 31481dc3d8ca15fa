package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/correlator-io/retail-analytics/internal/cleaning"
)

const (
	// bookkeepingTimeout bounds run recording and publishing after the snapshot
	// is committed, so a slow broker cannot hold the CLI open.
	bookkeepingTimeout = 30 * time.Second
)

var (
	// ErrNoSource is returned when a Runner is built without an Acquirer.
	ErrNoSource = errors.New("pipeline source is nil")
	// ErrNoWriter is returned when a Runner is built without a FactWriter.
	ErrNoWriter = errors.New("pipeline fact writer is nil")
	// ErrEmptySource is returned when the source yields no rows at all.
	ErrEmptySource = errors.New("source returned no rows")
	// ErrNoValidRows is returned when cleaning rejects every row.
	ErrNoValidRows = errors.New("no rows survived cleaning")
	// ErrRunFailed wraps every fatal run error.
	ErrRunFailed = errors.New("pipeline run failed")
)

type (
	// Runner executes pipeline runs. A Runner is not meant to run concurrently
	// with itself; the fact table assumes a single writer.
	Runner struct {
		source    Acquirer
		writer    FactWriter
		cleaner   *cleaning.Cleaner
		recorder  RunRecorder
		publisher Publisher
		logger    *slog.Logger
		now       func() time.Time
	}

	// Option configures a Runner.
	Option func(*Runner)
)

// WithCleaner replaces the default cleaner.
func WithCleaner(c *cleaning.Cleaner) Option {
	return func(r *Runner) {
		if c != nil {
			r.cleaner = c
		}
	}
}

// WithRecorder stores every run, successful or not.
func WithRecorder(rec RunRecorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithPublisher announces successful runs.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithLogger sets the progress logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner reading from source and writing through writer.
func NewRunner(source Acquirer, writer FactWriter, opts ...Option) (*Runner, error) {
	if source == nil {
		return nil, ErrNoSource
	}

	if writer == nil {
		return nil, ErrNoWriter
	}

	r := &Runner{
		source: source,
		writer: writer,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cleaner == nil {
		r.cleaner = cleaning.New(cleaning.WithLogger(r.logger))
	}

	return r, nil
}

// Run acquires, cleans and persists one snapshot, then records and announces it.
//
// Any failure before the snapshot commits is fatal and leaves the previous fact
// table in place. Recording and publishing happen afterwards and only log on error.
// The returned Run describes the outcome in both cases.
func (r *Runner) Run(ctx context.Context) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		Source:    r.source.Location(),
		StartedAt: r.now().UTC(),
		Dropped:   map[string]int{},
	}

	logger := r.logger.With(slog.String("run_id", run.ID.String()))
	logger.Info("Pipeline run started", slog.String("source", run.Source))

	err := r.execute(ctx, logger, &run)

	run.FinishedAt = r.now().UTC()

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()

		logger.Error("Pipeline run failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", run.Duration()),
		)
	} else {
		run.Status = StatusSucceeded

		logger.Info("Pipeline run succeeded",
			slog.Int("raw_rows", run.RawRows),
			slog.Int("clean_rows", run.CleanRows),
			slog.Int("dropped_rows", run.DroppedRows()),
			slog.Duration("duration", run.Duration()),
		)
	}

	r.bookkeep(ctx, logger, run)

	if err != nil {
		return run, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}

	return run, nil
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, run *Run) error {
	raw, err := r.source.Acquire(ctx)
	if err != nil {
		return err
	}

	run.RawRows = len(raw)
	if len(raw) == 0 {
		return ErrEmptySource
	}

	logger.Info("Acquired raw rows", slog.Int("raw_rows", run.RawRows))

	facts, report := r.cleaner.Clean(raw)
	run.CleanRows = report.OutputRows
	run.Dropped = report.DroppedByName()

	for reason, n := range run.Dropped {
		logger.Info("Dropped rows", slog.String("reason", reason), slog.Int("rows", n))
	}

	if len(facts) == 0 {
		return ErrNoValidRows
	}

	if err := r.writer.ReplaceFacts(ctx, facts, raw); err != nil {
		return err
	}

	logger.Info("Persisted snapshot", slog.Int("clean_rows", run.CleanRows))

	return nil
}

// bookkeep records and publishes the run. It survives a cancelled run context so
// that failures caused by cancellation are still recorded.
func (r *Runner) bookkeep(ctx context.Context, logger *slog.Logger, run Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, run); err != nil {
			logger.Warn("Failed to record pipeline run", slog.String("error", err.Error()))
		}
	}

	if r.publisher != nil && run.Succeeded() {
		if err := r.publisher.Publish(ctx, run); err != nil {
			logger.Warn("Failed to publish snapshot event", slog.String("error", err.Error()))
		}
	}
}
