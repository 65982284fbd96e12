package state

import (
	"time"

	"github.com/roach88/awexport/internal/tags"
)

// Accumulator tracks how long each tag has been seen since the last export,
// plus the totals of classified, unclassified and ignored time.
type Accumulator struct {
	tags map[string]time.Duration

	Known   time.Duration
	Unknown time.Duration

	// Ignored segments are too short to classify. They are kept for
	// diagnostics only and survive resets.
	Ignored      time.Duration
	IgnoredCount int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{tags: map[string]time.Duration{}}
}

// AddTags credits d to every tag of s and to the known total.
func (a *Accumulator) AddTags(s tags.Set, d time.Duration) {
	for t := range s {
		a.tags[t] += d
	}
	a.Known += d
}

// AddUnknown credits d to unclassified time.
func (a *Accumulator) AddUnknown(d time.Duration) {
	a.Unknown += d
}

// AddIgnored counts one ignored segment of length d.
func (a *Accumulator) AddIgnored(d time.Duration) {
	a.Ignored += d
	a.IgnoredCount++
}

// Get returns the time accumulated for tag.
func (a *Accumulator) Get(tag string) time.Duration {
	return a.tags[tag]
}

// Tags returns the tags with an entry.
func (a *Accumulator) Tags() tags.Set {
	out := tags.New()
	for t := range a.tags {
		out.Add(t)
	}
	return out
}

// Above returns the tags accumulated for strictly longer than min.
func (a *Accumulator) Above(min time.Duration) tags.Set {
	out := tags.New()
	for t, d := range a.tags {
		if d > min {
			out.Add(t)
		}
	}
	return out
}

// Snapshot copies the per-tag times.
func (a *Accumulator) Snapshot() map[string]time.Duration {
	out := make(map[string]time.Duration, len(a.tags))
	for t, d := range a.tags {
		out[t] = d
	}
	return out
}

// Reset clears all tag entries and the known and unknown totals.
func (a *Accumulator) Reset() {
	a.tags = map[string]time.Duration{}
	a.Known = 0
	a.Unknown = 0
}

// Decay keeps only the retained tags, each scaled by factor, and clears the
// known and unknown totals.
func (a *Accumulator) Decay(retain tags.Set, factor float64) {
	next := make(map[string]time.Duration, len(retain))
	for t := range retain {
		if d, ok := a.tags[t]; ok {
			next[t] = time.Duration(float64(d) * factor)
		}
	}
	a.tags = next
	a.Known = 0
	a.Unknown = 0
}
