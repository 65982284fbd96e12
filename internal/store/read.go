package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/awexport/internal/state"
)

const exportColumns = `id, kind, start, duration_ms, tags, accumulator_before, accumulator_after, decision_time`

// ReadExports returns the exports starting in [from, to), in insertion
// order. Zero bounds are open.
func (s *Store) ReadExports(ctx context.Context, from, to time.Time) ([]state.ExportRecord, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE 1 = 1`
	var args []any
	if !from.IsZero() {
		query += ` AND start >= ?`
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		query += ` AND start < ?`
		args = append(args, formatTime(to))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	records := []state.ExportRecord{}
	for rows.Next() {
		rec, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return records, nil
}

// ReadExport retrieves a single export by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadExport(ctx context.Context, id string) (state.ExportRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	return scanExport(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(row scanner) (state.ExportRecord, error) {
	var (
		rec                            state.ExportRecord
		kind, start, decided, tagsJSON string
		before, after                  string
		durationMS                     int64
	)
	if err := row.Scan(&rec.ID, &kind, &start, &durationMS, &tagsJSON, &before, &after, &decided); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan export: %w", err)
	}
	var err error
	rec.Kind = state.Kind(kind)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if rec.Start, err = parseTime(start); err != nil {
		return rec, err
	}
	if rec.DecisionTime, err = parseTime(decided); err != nil {
		return rec, err
	}
	if rec.Tags, err = unmarshalTags(tagsJSON); err != nil {
		return rec, err
	}
	if rec.AccumulatorBefore, err = unmarshalAccumulator(before); err != nil {
		return rec, err
	}
	if rec.AccumulatorAfter, err = unmarshalAccumulator(after); err != nil {
		return rec, err
	}
	return rec, nil
}

// RunStats is the stored summary of one run.
type RunStats struct {
	ID           string
	Mode         string
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running or after a crash
	Ticks        int
	Ignored      time.Duration
	IgnoredCount int
	Unknown      time.Duration
	Exports      int
}

// ReadRuns returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) ReadRuns(ctx context.Context, limit int) ([]RunStats, error) {
	query := `
		SELECT id, mode, started_at, finished_at, ticks, ignored_ms, ignored_count, unknown_ms, exports
		FROM runs
		ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunStats{}
	for rows.Next() {
		var (
			r                    RunStats
			started              string
			finished             sql.NullString
			ignoredMS, unknownMS int64
		)
		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Ticks, &ignoredMS, &r.IgnoredCount, &unknownMS, &r.Exports); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if r.FinishedAt, err = parseTime(finished.String); err != nil {
				return nil, err
			}
		}
		r.Ignored = time.Duration(ignoredMS) * time.Millisecond
		r.Unknown = time.Duration(unknownMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
