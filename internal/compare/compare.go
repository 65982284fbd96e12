// Package compare reconciles the ledger with the intervals awexport would
// have committed for the same range, and turns the differences into timew
// commands.
//
// Both sides are compared after retag expansion so that a manually entered
// tag implying others counts as equal to its expansion.
package compare

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/awexport/internal/tags"
	"github.com/roach88/awexport/internal/tracker"
)

// minGap is the shortest uncovered stretch reported as missing. Shorter
// gaps come from timestamp rounding.
const minGap = time.Second

// Suggested is an interval awexport would have committed.
type Suggested struct {
	Start time.Time
	End   time.Time
	Tags  tags.Set
}

// Duration returns End - Start.
func (s Suggested) Duration() time.Duration { return s.End.Sub(s.Start) }

// SuggestionsFrom turns simulated ledger entries into suggestions. An open
// entry is closed at end; entries outside [start, end) are dropped and the
// rest clipped to it.
func SuggestionsFrom(entries []tracker.Entry, start, end time.Time) []Suggested {
	var out []Suggested
	for _, e := range entries {
		s := Suggested{Start: latest(e.Start, start), End: earliest(e.EndOr(end), end), Tags: e.Tags}
		if s.Start.Before(s.End) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Pair is the part of a suggestion covered by one ledger entry.
type Pair struct {
	Entry     tracker.Entry
	Suggested Suggested
}

// Result groups the outcome of Compare.
type Result struct {
	// Missing are suggestions, or parts of them, with no ledger coverage.
	Missing []Suggested
	// Extra are ledger entries without the marker that no suggestion overlaps.
	Extra []tracker.Entry
	// PreviouslySynced are entries we committed that no suggestion overlaps,
	// usually because they lie outside the compared range.
	PreviouslySynced []tracker.Entry
	// DifferentTags are covered parts whose expanded tags disagree.
	DifferentTags []Pair
	// Matching are covered parts whose expanded tags agree.
	Matching []Pair
}

// InSync reports whether nothing needs fixing.
func (r Result) InSync() bool {
	return len(r.Missing) == 0 && len(r.DifferentTags) == 0
}

// Expander applies the retag rules to a tag set.
type Expander func(tags.Set) tags.Set

// Identity leaves tag sets unchanged.
func Identity(s tags.Set) tags.Set { return s }

// Compare matches every suggestion against the closed ledger entries it
// overlaps. Touching at a single point is not overlap; open entries are
// never matched.
func Compare(entries []tracker.Entry, suggested []Suggested, expand Expander) Result {
	if expand == nil {
		expand = Identity
	}
	var r Result
	matched := map[int]bool{}

	for _, s := range suggested {
		var overlapping []int
		for i, e := range entries {
			if !e.Open() && e.Start.Before(s.End) && s.Start.Before(e.End) {
				overlapping = append(overlapping, i)
			}
		}
		if len(overlapping) == 0 {
			r.Missing = append(r.Missing, s)
			continue
		}
		sort.SliceStable(overlapping, func(a, b int) bool {
			return entries[overlapping[a]].Start.Before(entries[overlapping[b]].Start)
		})

		want := expand(s.Tags)
		pos := s.Start
		for _, i := range overlapping {
			e := entries[i]
			if e.Start.After(pos) {
				gapEnd := earliest(e.Start, s.End)
				if gapEnd.Sub(pos) >= minGap {
					r.Missing = append(r.Missing, Suggested{Start: pos, End: gapEnd, Tags: s.Tags})
				}
			}
			from, to := latest(pos, e.Start), earliest(s.End, e.End)
			if !from.Before(to) {
				continue
			}
			p := Pair{Entry: e, Suggested: Suggested{Start: from, End: to, Tags: s.Tags}}
			if expand(e.Tags).Equal(want) {
				r.Matching = append(r.Matching, p)
			} else {
				r.DifferentTags = append(r.DifferentTags, p)
			}
			matched[i] = true
			pos = to
		}
		if s.End.Sub(pos) >= minGap {
			r.Missing = append(r.Missing, Suggested{Start: pos, End: s.End, Tags: s.Tags})
		}
	}

	for i, e := range entries {
		if matched[i] {
			continue
		}
		if e.Tags.Has(tags.Marker) {
			r.PreviouslySynced = append(r.PreviouslySynced, e)
		} else {
			r.Extra = append(r.Extra, e)
		}
	}
	return r
}

// MergeConsecutive joins suggestions that touch and carry equal tags. The
// result is ordered by start.
func MergeConsecutive(in []Suggested) []Suggested {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Suggested(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Suggested{sorted[0]}
	for _, next := range sorted[1:] {
		cur := &out[len(out)-1]
		if cur.End.Equal(next.Start) && cur.Tags.Equal(next.Tags) {
			cur.End = next.End
			continue
		}
		out = append(out, next)
	}
	return out
}

// Plan is what it takes to bring the ledger in line.
type Plan struct {
	// Track are the intervals to record with :adjust, retag rules applied.
	Track []Suggested
	// Manual are differing parts of entries without the marker. They are
	// reported but never overwritten.
	Manual []Pair
	// Retag maps ledger entry ids to the tags the retag rules derive from
	// their current tags.
	Retag []Retag
}

// Retag adds derived tags to an existing entry.
type Retag struct {
	Entry tracker.Entry
	Add   tags.Set
}

// NewPlan derives the fixes for r. Missing time and differing parts of our
// own entries are tracked; manual entries only get their derived tags.
func NewPlan(r Result, expand Expander) Plan {
	if expand == nil {
		expand = Identity
	}
	var p Plan
	track := append([]Suggested(nil), r.Missing...)
	for _, d := range r.DifferentTags {
		if d.Entry.Tags.Has(tags.Marker) {
			track = append(track, d.Suggested)
		} else {
			p.Manual = append(p.Manual, d)
		}
	}
	for _, s := range MergeConsecutive(track) {
		s.Tags = expand(s.Tags)
		p.Track = append(p.Track, s)
	}
	sort.SliceStable(p.Manual, func(i, j int) bool { return p.Manual[i].Suggested.Start.Before(p.Manual[j].Suggested.Start) })

	seen := map[string]bool{}
	derive := func(e tracker.Entry) {
		if seen[e.ID] {
			return
		}
		seen[e.ID] = true
		current := e.Tags.Without(tags.Marker)
		if add := expand(current).Without(current.Sorted()...); !add.Empty() {
			p.Retag = append(p.Retag, Retag{Entry: e, Add: add})
		}
	}
	for _, m := range p.Manual {
		derive(m.Entry)
	}
	extra := append([]tracker.Entry(nil), r.Extra...)
	tracker.SortEntries(extra)
	for _, e := range extra {
		derive(e)
	}
	return p
}

// Apply records the planned intervals through tr. It returns how many were
// tracked before any error.
func (p Plan) Apply(ctx context.Context, tr tracker.Tracker) (int, error) {
	for i, s := range p.Track {
		if err := tr.Track(ctx, s.Start, s.End, s.Tags); err != nil {
			return i, fmt.Errorf("track %s - %s: %w", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339), err)
		}
	}
	return len(p.Track), nil
}

// FixCommands renders r as timew command lines. Manual entries appear as
// comments; extra entries are listed but never deleted.
func FixCommands(r Result, expand Expander, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	p := NewPlan(r, expand)

	var lines []string
	for _, s := range p.Track {
		lines = append(lines, command(tracker.TrackArgs(s.Start, s.End, s.Tags, loc)))
	}

	if len(p.Manual) > 0 {
		lines = append(lines, "", "# Manually edited intervals (no ~aw tag, not overwriting):")
		for _, m := range p.Manual {
			s := m.Suggested
			lines = append(lines,
				"# "+command(tracker.TrackArgs(s.Start, s.End, expandOr(expand, s.Tags), loc)),
				"#   (current: "+m.Entry.Tags.String()+")")
		}
	}

	if len(p.Retag) > 0 {
		lines = append(lines, "", "# Apply retag rules to existing intervals:")
		for _, rt := range p.Retag {
			lines = append(lines, command(append([]string{"tag", rt.Entry.ID}, rt.Add.Sorted()...)))
		}
	}

	if len(r.Extra) > 0 {
		derived := map[string]tags.Set{}
		for _, rt := range p.Retag {
			derived[rt.Entry.ID] = rt.Add
		}
		extra := append([]tracker.Entry(nil), r.Extra...)
		tracker.SortEntries(extra)

		lines = append(lines, "", "# Extra intervals in the ledger (not deleting to maintain continuity):")
		for _, e := range extra {
			end := "ongoing"
			if !e.Open() {
				end = e.End.In(loc).Format("15:04")
			}
			line := fmt.Sprintf("#   %s: %s - %s (%s)", e.ID, e.Start.In(loc).Format("2006-01-02 15:04"), end,
				e.Tags.Without(tags.Marker).String())
			if add, ok := derived[e.ID]; ok {
				line += " -> +" + strings.Join(add.Sorted(), ", ")
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func command(args []string) string {
	return "timew " + strings.Join(args, " ")
}

func expandOr(expand Expander, s tags.Set) tags.Set {
	if expand == nil {
		return s
	}
	return expand(s)
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
