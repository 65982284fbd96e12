package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/awexport/internal/state"
)

// WriteExport inserts an export record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency - a record written twice is stored once. runID may be empty.
func (s *Store) WriteExport(ctx context.Context, runID string, rec state.ExportRecord) error {
	tagsJSON, err := marshalTags(rec.Tags)
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	before, err := marshalAccumulator(rec.AccumulatorBefore)
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	after, err := marshalAccumulator(rec.AccumulatorAfter)
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	var run any
	if runID != "" {
		run = runID
	}
	err = retryOp(defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO exports
			(id, kind, start, duration_ms, tags, accumulator_before, accumulator_after, decision_time, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			rec.ID,
			string(rec.Kind),
			formatTime(rec.Start),
			rec.Duration.Milliseconds(),
			tagsJSON,
			before,
			after,
			formatTime(rec.DecisionTime),
			run,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Run groups the exports of one sync invocation.
type Run struct {
	store *Store
	ID    string
}

// StartRun inserts a run row. mode is "live", "batch" or "dry-run".
func (s *Store) StartRun(ctx context.Context, id, mode string, at time.Time) (*Run, error) {
	err := retryOp(defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (id, started_at, mode) VALUES (?, ?, ?)
		`, id, formatTime(at), mode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &Run{store: s, ID: id}, nil
}

// RecordExport stores rec under the run.
func (r *Run) RecordExport(ctx context.Context, rec state.ExportRecord) error {
	return r.store.WriteExport(ctx, r.ID, rec)
}

// Finish stores the run's final statistics.
func (r *Run) Finish(ctx context.Context, at time.Time, ticks int, sum state.Summary) error {
	err := retryOp(defaultRetryConfig, func() error {
		_, err := r.store.db.ExecContext(ctx, `
			UPDATE runs
			SET finished_at = ?, ticks = ?, ignored_ms = ?, ignored_count = ?, unknown_ms = ?, exports = ?
			WHERE id = ?
		`,
			formatTime(at),
			ticks,
			sum.Ignored.Milliseconds(),
			sum.IgnoredCount,
			sum.Unknown.Milliseconds(),
			sum.Exports,
			r.ID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
