package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/awexport/internal/tags"
)

// Timeline is an in-memory ledger with timew's adjust semantics: new
// intervals win over whatever they overlap.
//
// Thread-safety: Timeline is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int
}

// NewTimeline creates a ledger holding entries.
func NewTimeline(entries ...Entry) *Timeline {
	tl := &Timeline{}
	for _, e := range entries {
		tl.insert(e)
	}
	return tl
}

func (tl *Timeline) insert(e Entry) {
	if e.ID == "" {
		tl.nextID++
		e.ID = fmt.Sprintf("@%d", tl.nextID)
	}
	e.Tags = e.Tags.Clone()
	tl.entries = append(tl.entries, e)
	SortEntries(tl.entries)
}

// carve cuts [start, end) and numbers the split-off right halves.
func (tl *Timeline) carve(start, end time.Time) {
	tl.entries = Carve(tl.entries, start, end)
	for i := range tl.entries {
		if tl.entries[i].ID == "" {
			tl.nextID++
			tl.entries[i].ID = fmt.Sprintf("@%d", tl.nextID)
		}
	}
}

// Current returns the open entry, if any.
func (tl *Timeline) Current(_ context.Context) (*Entry, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i := len(tl.entries) - 1; i >= 0; i-- {
		if tl.entries[i].Open() {
			e := tl.entries[i]
			e.Tags = e.Tags.Clone()
			return &e, nil
		}
	}
	return nil, nil
}

// Start opens a new entry at since, cutting everything from since on.
func (tl *Timeline) Start(_ context.Context, t tags.Set, since time.Time) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.carve(since, time.Time{})
	tl.insert(Entry{Start: since, Tags: t})
	return nil
}

// Retag adds tags to the open entry. Without one it is a no-op.
func (tl *Timeline) Retag(_ context.Context, t tags.Set) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i := range tl.entries {
		if tl.entries[i].Open() {
			tl.entries[i].Tags = tl.entries[i].Tags.Union(t)
		}
	}
	return nil
}

// Intervals returns copies of the entries intersecting [start, end).
func (tl *Timeline) Intervals(_ context.Context, start, end time.Time) ([]Entry, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	var out []Entry
	for _, e := range tl.entries {
		if e.Overlaps(start, end) {
			e.Tags = e.Tags.Clone()
			out = append(out, e)
		}
	}
	return out, nil
}

// Track records a closed interval.
func (tl *Timeline) Track(_ context.Context, start, end time.Time, t tags.Set) error {
	if !end.After(start) {
		return fmt.Errorf("track: end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.carve(start, end)
	tl.insert(Entry{Start: start, End: end, Tags: t})
	return nil
}

// Entries returns a copy of every entry.
func (tl *Timeline) Entries() []Entry {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]Entry, len(tl.entries))
	copy(out, tl.entries)
	return out
}
