package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

// defaultRecentRuns caps RecentRuns when the caller passes a non-positive limit.
const defaultRecentRuns = 20

var (
	// ErrRunRecordFailed is returned when a pipeline run cannot be stored.
	ErrRunRecordFailed = errors.New("pipeline run record failed")

	_ pipeline.RunRecorder = (*Warehouse)(nil)
	_ pipeline.RunHistory  = (*Warehouse)(nil)
)

// RecordRun implements pipeline.RunRecorder. Recording the same run id twice
// overwrites the earlier row.
func (w *Warehouse) RecordRun(ctx context.Context, run pipeline.Run) error {
	dropped, err := json.Marshal(nonNilCounts(run.Dropped))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRunRecordFailed, err)
	}

	errMessage := sql.NullString{String: run.Error, Valid: run.Error != ""}

	_, err = w.conn.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(run_id, source, status, started_at, finished_at, raw_rows, clean_rows, dropped, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			raw_rows = EXCLUDED.raw_rows,
			clean_rows = EXCLUDED.clean_rows,
			dropped = EXCLUDED.dropped,
			error_message = EXCLUDED.error_message`,
		run.ID, run.Source, string(run.Status), run.StartedAt, run.FinishedAt,
		run.RawRows, run.CleanRows, string(dropped), errMessage,
	)
	if err != nil {
		w.logger.Error("Failed to record pipeline run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()))

		return fmt.Errorf("%w: %w", ErrRunRecordFailed, err)
	}

	return nil
}

// RecentRuns implements pipeline.RunHistory, newest first.
func (w *Warehouse) RecentRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}

	query := `SELECT run_id, source, status, started_at, finished_at, raw_rows, clean_rows, dropped, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC, run_id
		LIMIT $1`

	return queryRows(ctx, w, "recent_runs", query, []any{limit}, func(rows *sql.Rows) (pipeline.Run, error) {
		var (
			run        pipeline.Run
			status     string
			dropped    []byte
			errMessage sql.NullString
		)

		err := rows.Scan(&run.ID, &run.Source, &status, &run.StartedAt, &run.FinishedAt,
			&run.RawRows, &run.CleanRows, &dropped, &errMessage)
		if err != nil {
			return run, err
		}

		run.Status = pipeline.RunStatus(status)
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = run.FinishedAt.UTC()
		run.Error = errMessage.String

		if err := json.Unmarshal(dropped, &run.Dropped); err != nil {
			return run, fmt.Errorf("invalid dropped counts: %w", err)
		}

		return run, nil
	})
}

func nonNilCounts(counts map[string]int) map[string]int {
	if counts == nil {
		return map[string]int{}
	}

	return counts
}
