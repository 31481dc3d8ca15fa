// Package pipeline runs one acquire, clean, persist cycle and records its outcome.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

type (
	// Run is the record of one pipeline execution.
	Run struct {
		ID         uuid.UUID      `json:"run_id"`
		Source     string         `json:"source"`
		Status     RunStatus      `json:"status"`
		StartedAt  time.Time      `json:"started_at"`
		FinishedAt time.Time      `json:"finished_at"`
		RawRows    int            `json:"raw_rows"`
		CleanRows  int            `json:"clean_rows"`
		Dropped    map[string]int `json:"dropped"`
		Error      string         `json:"error,omitempty"`
	}

	// Acquirer supplies the raw rows for a run.
	Acquirer interface {
		Acquire(ctx context.Context) ([]retail.RawRecord, error)
		Location() string
	}

	// FactWriter atomically replaces the lineage and fact tables.
	FactWriter interface {
		ReplaceFacts(ctx context.Context, facts []retail.Transaction, raw []retail.RawRecord) error
	}

	// RunRecorder stores run history.
	RunRecorder interface {
		RecordRun(ctx context.Context, run Run) error
	}

	// RunHistory lists recorded runs, newest first.
	RunHistory interface {
		RecentRuns(ctx context.Context, limit int) ([]Run, error)
	}

	// Publisher announces a committed snapshot to downstream consumers.
	Publisher interface {
		Publish(ctx context.Context, run Run) error
		Close() error
	}
)

// Duration is the wall time of the run, zero while it is still in progress.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// DroppedRows is the number of raw rows rejected by cleaning.
func (r Run) DroppedRows() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}

	return total
}

// Succeeded reports whether the run committed a new snapshot.
func (r Run) Succeeded() bool {
	return r.Status == StatusSucceeded
}
