package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/awexport/internal/state"
	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/tracker"
)

// LedgerTracker is a tracker.Tracker persisting intervals in the store.
// It follows timew's adjust semantics: a new interval wins over whatever it
// overlaps.
type LedgerTracker struct {
	store *Store
	ids   state.IDGenerator
}

// NewLedgerTracker creates a ledger over s. A nil ids uses UUIDv7.
func NewLedgerTracker(s *Store, ids state.IDGenerator) *LedgerTracker {
	if ids == nil {
		ids = state.UUIDv7Generator{}
	}
	return &LedgerTracker{store: s, ids: ids}
}

var _ tracker.Tracker = (*LedgerTracker)(nil)

const intervalColumns = `id, start_time, end_time, tags`

// Current returns the open interval, or nil.
func (l *LedgerTracker) Current(ctx context.Context) (*tracker.Entry, error) {
	row := l.store.db.QueryRowContext(ctx, `
		SELECT `+intervalColumns+` FROM intervals
		WHERE end_time IS NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`)
	e, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current interval: %w", err)
	}
	return &e, nil
}

// Start closes whatever runs at since and opens a new interval.
func (l *LedgerTracker) Start(ctx context.Context, t tags.Set, since time.Time) error {
	return l.replace(ctx, since, time.Time{}, tracker.Entry{Start: since, Tags: t})
}

// Track records a closed interval.
func (l *LedgerTracker) Track(ctx context.Context, start, end time.Time, t tags.Set) error {
	if !end.After(start) {
		return fmt.Errorf("track: end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return l.replace(ctx, start, end, tracker.Entry{Start: start, End: end, Tags: t})
}

// Retag adds tags to the open interval. Without one it is a no-op.
func (l *LedgerTracker) Retag(ctx context.Context, t tags.Set) error {
	cur, err := l.Current(ctx)
	if err != nil || cur == nil {
		return err
	}
	data, err := marshalTags(cur.Tags.Union(t))
	if err != nil {
		return err
	}
	return retryOp(defaultRetryConfig, func() error {
		_, err := l.store.db.ExecContext(ctx, `UPDATE intervals SET tags = ? WHERE id = ?`, data, cur.ID)
		return err
	})
}

// Intervals returns the intervals intersecting [start, end), oldest first.
// A zero end is unbounded.
func (l *LedgerTracker) Intervals(ctx context.Context, start, end time.Time) ([]tracker.Entry, error) {
	return queryIntervals(ctx, l.store.db, start, end)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryIntervals(ctx context.Context, q querier, start, end time.Time) ([]tracker.Entry, error) {
	query := `SELECT ` + intervalColumns + ` FROM intervals WHERE (end_time IS NULL OR end_time > ?)`
	args := []any{formatTime(start)}
	if !end.IsZero() {
		query += ` AND start_time < ?`
		args = append(args, formatTime(end))
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var out []tracker.Entry
	for rows.Next() {
		e, err := scanInterval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intervals: %w", err)
	}
	return out, nil
}

// replace carves [start, end) out of the ledger and inserts e, in one
// transaction.
func (l *LedgerTracker) replace(ctx context.Context, start, end time.Time, e tracker.Entry) error {
	return retryOp(defaultRetryConfig, func() error {
		tx, err := l.store.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		affected, err := queryIntervals(ctx, tx, start, end)
		if err != nil {
			return err
		}
		for _, a := range affected {
			if _, err := tx.ExecContext(ctx, `DELETE FROM intervals WHERE id = ?`, a.ID); err != nil {
				return fmt.Errorf("delete interval: %w", err)
			}
		}
		for _, c := range append(tracker.Carve(affected, start, end), e) {
			if c.ID == "" {
				c.ID = l.ids.Generate()
			}
			if err := insertInterval(ctx, tx, c); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func insertInterval(ctx context.Context, tx *sql.Tx, e tracker.Entry) error {
	data, err := marshalTags(e.Tags)
	if err != nil {
		return err
	}
	var end any
	if !e.Open() {
		end = formatTime(e.End)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intervals (`+intervalColumns+`) VALUES (?, ?, ?, ?)
	`, e.ID, formatTime(e.Start), end, data); err != nil {
		return fmt.Errorf("insert interval: %w", err)
	}
	return nil
}

func scanInterval(row scanner) (tracker.Entry, error) {
	var (
		e           tracker.Entry
		start, data string
		end         sql.NullString
	)
	if err := row.Scan(&e.ID, &start, &end, &data); err != nil {
		return e, err
	}
	var err error
	if e.Start, err = parseTime(start); err != nil {
		return e, err
	}
	if end.Valid {
		if e.End, err = parseTime(end.String); err != nil {
			return e, err
		}
	}
	e.Tags, err = unmarshalTags(data)
	return e, err
}
