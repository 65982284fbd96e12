// Package tracker defines the ledger awexport commits to and its
// implementations: the timew command line, a dry-run simulation, and (in
// package store) a local SQLite ledger.
package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/roach88/awexport/internal/tags"
)

// Entry is one ledger interval. End is zero while the entry is open.
type Entry struct {
	ID    string
	Start time.Time
	End   time.Time
	Tags  tags.Set
}

// Open reports whether the entry is still running.
func (e Entry) Open() bool { return e.End.IsZero() }

// EndOr returns End, or now for an open entry.
func (e Entry) EndOr(now time.Time) time.Time {
	if e.Open() {
		return now
	}
	return e.End
}

// Overlaps reports whether the entry intersects [start, end). A zero end
// means unbounded.
func (e Entry) Overlaps(start, end time.Time) bool {
	if !end.IsZero() && !e.Start.Before(end) {
		return false
	}
	return e.Open() || e.End.After(start)
}

// Tracker is the external ledger.
type Tracker interface {
	// Current returns the open entry, or nil when nothing is tracked.
	Current(ctx context.Context) (*Entry, error)
	// Start closes the open entry at since and opens a new one.
	Start(ctx context.Context, t tags.Set, since time.Time) error
	// Retag adds tags to the open entry.
	Retag(ctx context.Context, t tags.Set) error
	// Intervals returns the entries intersecting [start, end), oldest first.
	Intervals(ctx context.Context, start, end time.Time) ([]Entry, error)
	// Track records a closed interval, trimming whatever it overlaps.
	Track(ctx context.Context, start, end time.Time, t tags.Set) error
}

// Carve removes [start, end) from entries, trimming or splitting the ones
// that overlap it. A zero end carves everything from start on. The result is
// ordered by start; split halves keep the original id on the left part only.
func Carve(entries []Entry, start, end time.Time) []Entry {
	var out []Entry
	for _, e := range entries {
		if !e.Overlaps(start, end) {
			out = append(out, e)
			continue
		}
		if e.Start.Before(start) {
			left := e
			left.End = start
			out = append(out, left)
		}
		if end.IsZero() {
			continue
		}
		if e.Open() || e.End.After(end) {
			right := e
			right.ID = ""
			right.Start = end
			out = append(out, right)
		}
	}
	SortEntries(out)
	return out
}

// SortEntries orders entries by start time.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start.Before(entries[j].Start) })
}
